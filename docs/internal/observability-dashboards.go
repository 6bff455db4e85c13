// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Mitosis Workflow & Error Dashboards
// This file documents dashboard templates for an OTLP backend or Grafana,
// built on the instruments in pkg/telemetry/metrics.go.
//
// DASHBOARD: Run Outcomes
//   Shows how runs end and how long their steps take.
//
//   Queries:
//   - mitosis.runs.total{mitosis.run.status} (rate 5m)
//     Metric: Finished runs by final state (completed, failed)
//     Display: Stacked bar chart
//     Alert Threshold: failed / total > 20% over 15m
//
//   - mitosis.step.duration{mitosis.agent.name} (p50, p95)
//     Metric: Wall-clock seconds per step, completion latency included
//     Display: Heatmap per agent
//
//   - mitosis.steps.degraded / mitosis.steps.total
//     Metric: Share of steps that fell back to the degraded reply
//     Display: Single stat
//     Goal: < 5%
//
// DASHBOARD: Mitosis Activity
//   Shows how often agents split and how large rosters grow.
//
//   Queries:
//   - mitosis.clones.total (rate 1h)
//     Metric: Agents created by mitosis
//     Display: Line chart
//     Insight: A rising rate with a steady run rate means the threshold
//              (orchestrator.mitosis_threshold) is too low for the model
//
// DASHBOARD: Errors
//   Deep dive into error codes per component.
//
//   Queries:
//   - mitosis.errors.total by (error.code, component, recoverable)
//     Breakdown: Error code × component × recoverability
//     Display: Table
//     Insight: COMPLETION_SERVICE from "agent" is the upstream provider;
//              errors from "delegator" stop the run
//
//   - mitosis.errors.total{error.code="TIMEOUT"}
//     Correlation: Timeouts vs llm.timeout and the retry budget
//     Display: Line chart
//
// ALERT RULES (Prometheus/AlertManager format):
//
// Alert 1: Completion Service Down
//   Name: MitosisCompletionServiceErrors
//   Condition: rate(mitosis.errors.total{error.code="COMPLETION_SERVICE"}[5m]) > 1
//   Duration: 5m
//   Severity: critical
//   Message: "Completion provider failing {{ $value }} errors/sec"
//   Action: Check llm.provider, credentials and the provider status page
//
// Alert 2: Degraded Steps
//   Name: MitosisDegradedSteps
//   Condition: rate(mitosis.steps.degraded[15m]) / rate(mitosis.steps.total[15m]) > 0.2
//   Duration: 15m
//   Severity: warning
//   Message: "{{ $value }} of steps returned the degraded reply"
//   Action: Review knowledge backend health and provider latency
//
// Alert 3: Runaway Mitosis
//   Name: MitosisRunawayClones
//   Condition: rate(mitosis.clones.total[1h]) > 10 * rate(mitosis.runs.total[1h])
//   Duration: 30m
//   Severity: warning
//   Message: "Agents split {{ $value }} times per run"
//   Action: Raise orchestrator.mitosis_threshold or cap orchestrator.max_steps
//
// QUERY EXAMPLES:
//
// 1. Failed Run Percentage
//    PromQL: sum(rate(mitosis_runs_total{mitosis_run_status="failed"}[5m]))
//            / sum(rate(mitosis_runs_total[5m])) * 100
//
// 2. Slowest Agents
//    PromQL: topk(5, histogram_quantile(0.95,
//            sum(rate(mitosis_step_duration_bucket[5m])) by (le, mitosis_agent_name)))
//
// 3. Errors by Code (24h)
//    PromQL: sum(increase(mitosis_errors_total[24h])) by (error_code)
//
// TRACES:
//
//   Each run is one "Orchestrator.Run" span carrying mitosis.run.id and
//   mitosis.roster.size; every step is a child "Orchestrator.Step" span with
//   mitosis.step.index and mitosis.agent.name. Its Agent.GenerateResponse and
//   Delegator.Delegate children (and AgentFactory.Create on generated runs)
//   carry gen_ai.request.model, gen_ai.system and gen_ai.usage.* tokens.
//   Filter by mitosis.run.id to line a trace up with the audit log
//   (mitosis records audit <run-id>).
package internal
