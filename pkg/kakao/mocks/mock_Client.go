// Package mocks provides test doubles for the kakao client.
package mocks

import (
	"context"

	kakao "github.com/live-cpu/exhibition-sub000/pkg/kakao"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// KeywordSearch provides a mock function with given fields: ctx, query, size
func (_m *MockClient) KeywordSearch(ctx context.Context, query string, size int) (*kakao.KeywordSearchResponse, error) {
	ret := _m.Called(ctx, query, size)

	if len(ret) == 0 {
		panic("no return value specified for KeywordSearch")
	}

	var r0 *kakao.KeywordSearchResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, int) (*kakao.KeywordSearchResponse, error)); ok {
		return rf(ctx, query, size)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*kakao.KeywordSearchResponse)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// NewMockClient creates a new instance of MockClient and registers cleanup.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
