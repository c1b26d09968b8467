// Package mocks provides test doubles for the culture client.
package mocks

import (
	"context"

	culture "github.com/live-cpu/exhibition-sub000/pkg/culture"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// ListExhibitions provides a mock function with given fields: ctx, page, perPage
func (_m *MockClient) ListExhibitions(ctx context.Context, page int, perPage int) (*culture.ListResponse, error) {
	ret := _m.Called(ctx, page, perPage)

	if len(ret) == 0 {
		panic("no return value specified for ListExhibitions")
	}

	var r0 *culture.ListResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, int, int) (*culture.ListResponse, error)); ok {
		return rf(ctx, page, perPage)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*culture.ListResponse)
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
