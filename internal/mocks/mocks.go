package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/push"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) Get(ctx context.Context, path string) (docstore.Document, error) {
	args := m.Called(ctx, path)
	var doc docstore.Document
	if val := args.Get(0); val != nil {
		doc = val.(docstore.Document)
	}
	return doc, args.Error(1)
}

func (m *StoreMock) Set(ctx context.Context, path string, fields map[string]any, opts ...docstore.SetOption) error {
	args := m.Called(ctx, path, fields)
	return args.Error(0)
}

func (m *StoreMock) Update(ctx context.Context, path string, fields map[string]any) error {
	args := m.Called(ctx, path, fields)
	return args.Error(0)
}

func (m *StoreMock) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *StoreMock) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	args := m.Called(ctx, q)
	var docs []docstore.Document
	if val := args.Get(0); val != nil {
		docs = val.([]docstore.Document)
	}
	return docs, args.Error(1)
}

func (m *StoreMock) WatchDoc(ctx context.Context, path string) (<-chan docstore.DocSnapshot, error) {
	args := m.Called(ctx, path)
	var ch <-chan docstore.DocSnapshot
	if val := args.Get(0); val != nil {
		ch = val.(<-chan docstore.DocSnapshot)
	}
	return ch, args.Error(1)
}

func (m *StoreMock) WatchQuery(ctx context.Context, q docstore.Query) (<-chan docstore.QuerySnapshot, error) {
	args := m.Called(ctx, q)
	var ch <-chan docstore.QuerySnapshot
	if val := args.Get(0); val != nil {
		ch = val.(<-chan docstore.QuerySnapshot)
	}
	return ch, args.Error(1)
}

type PushSenderMock struct {
	mock.Mock
}

func (m *PushSenderMock) Send(ctx context.Context, n push.Notification) (string, error) {
	args := m.Called(ctx, n)
	return args.String(0), args.Error(1)
}

type GuardMock struct {
	mock.Mock
}

func (m *GuardMock) FirstSeen(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}
