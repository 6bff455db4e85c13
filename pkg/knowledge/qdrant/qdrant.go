// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package qdrant stores knowledge entries as points of a Qdrant collection.
//
// Retrieval stays substring based, so points carry a one-dimensional
// placeholder vector and the entry lives in the payload. Point ids are
// derived from the key, which makes Put an upsert.
package qdrant

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jllopis/mitosis/pkg/knowledge"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	payloadKey   = "key"
	payloadValue = "value"
	payloadSeq   = "seq"
	scrollPage   = 256
)

// keyNamespace scopes the deterministic point ids.
var keyNamespace = uuid.MustParse("5b0a9a4e-2f43-4d59-9a55-5e0e1c3b7d21")

// Backend implements knowledge.Backend on Qdrant.
type Backend struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	now         func() time.Time
}

// New dials addr and returns a backend for collection.
func New(addr, collection string) (*Backend, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant dial %s: %w", addr, err)
	}
	if collection == "" {
		collection = "mitosis_knowledge"
	}
	return &Backend{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		now:         time.Now,
	}, nil
}

// Close releases the gRPC connection.
func (b *Backend) Close() error {
	return b.conn.Close()
}

// EnsureCollection creates the collection when it does not exist yet.
func (b *Backend) EnsureCollection(ctx context.Context) error {
	exists, err := b.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: b.collection})
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}
	_, err = b.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     1,
					Distance: pb.Distance_Dot,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Put upserts e. An existing key keeps its original sequence number so
// the insertion order of the corpus is preserved.
func (b *Backend) Put(ctx context.Context, e knowledge.Entry) error {
	id := PointID(e.Key)

	seq := b.now().UnixNano()
	got, err := b.points.Get(ctx, &pb.GetPoints{
		CollectionName: b.collection,
		Ids:            []*pb.PointId{id},
		WithPayload:    withPayload(),
	})
	if err != nil {
		return fmt.Errorf("get point: %w", err)
	}
	if res := got.GetResult(); len(res) > 0 {
		if prev, ok := res[0].GetPayload()[payloadSeq]; ok {
			seq = prev.GetIntegerValue()
		}
	}

	wait := true
	_, err = b.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: b.collection,
		Wait:           &wait,
		Points:         []*pb.PointStruct{toPoint(e, seq)},
	})
	if err != nil {
		return fmt.Errorf("upsert point: %w", err)
	}
	return nil
}

// List scrolls the whole collection and returns entries by sequence.
func (b *Backend) List(ctx context.Context) ([]knowledge.Entry, error) {
	type seqEntry struct {
		seq   int64
		entry knowledge.Entry
	}
	var all []seqEntry

	limit := uint32(scrollPage)
	var offset *pb.PointId
	for {
		resp, err := b.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: b.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    withPayload(),
		})
		if err != nil {
			return nil, fmt.Errorf("scroll points: %w", err)
		}
		for _, p := range resp.GetResult() {
			e, seq, ok := fromPayload(p.GetPayload())
			if ok {
				all = append(all, seqEntry{seq: seq, entry: e})
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	out := make([]knowledge.Entry, len(all))
	for i, se := range all {
		out[i] = se.entry
	}
	return out, nil
}

// Delete removes the point for key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	wait := true
	_, err := b.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: b.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{PointID(key)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete point: %w", err)
	}
	return nil
}

// PointID derives the stable point id of key.
func PointID(key string) *pb.PointId {
	return &pb.PointId{
		PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.NewSHA1(keyNamespace, []byte(key)).String()},
	}
}

func toPoint(e knowledge.Entry, seq int64) *pb.PointStruct {
	return &pb.PointStruct{
		Id: PointID(e.Key),
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: []float32{1}},
			},
		},
		Payload: map[string]*pb.Value{
			payloadKey:   {Kind: &pb.Value_StringValue{StringValue: e.Key}},
			payloadValue: {Kind: &pb.Value_StringValue{StringValue: e.Value}},
			payloadSeq:   {Kind: &pb.Value_IntegerValue{IntegerValue: seq}},
		},
	}
}

func fromPayload(payload map[string]*pb.Value) (knowledge.Entry, int64, bool) {
	k, ok := payload[payloadKey]
	if !ok || k.GetStringValue() == "" {
		return knowledge.Entry{}, 0, false
	}
	e := knowledge.Entry{Key: k.GetStringValue()}
	if v, ok := payload[payloadValue]; ok {
		e.Value = v.GetStringValue()
	}
	var seq int64
	if s, ok := payload[payloadSeq]; ok {
		seq = s.GetIntegerValue()
	}
	return e, seq, true
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

var _ knowledge.Backend = (*Backend)(nil)
