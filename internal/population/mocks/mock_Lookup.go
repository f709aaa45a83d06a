// Package mocks provides test doubles for the population lookup.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/crime-stats/internal/model"
)

// MockLookup is a mock type for the Lookup interface.
type MockLookup struct {
	mock.Mock
}

// Population provides a mock function with given fields: ctx, q
func (_m *MockLookup) Population(ctx context.Context, q model.PopulationQuery) (*int64, error) {
	ret := _m.Called(ctx, q)

	if len(ret) == 0 {
		panic("no return value specified for Population")
	}

	var r0 *int64
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, model.PopulationQuery) (*int64, error)); ok {
		return rf(ctx, q)
	}
	if rf, ok := ret.Get(0).(func(context.Context, model.PopulationQuery) *int64); ok {
		r0 = rf(ctx, q)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*int64)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, model.PopulationQuery) error); ok {
		r1 = rf(ctx, q)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Exists provides a mock function with given fields: ctx, year, state
func (_m *MockLookup) Exists(ctx context.Context, year int, state string) (bool, error) {
	ret := _m.Called(ctx, year, state)

	if len(ret) == 0 {
		panic("no return value specified for Exists")
	}

	var r0 bool
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, int, string) (bool, error)); ok {
		return rf(ctx, year, state)
	}
	if rf, ok := ret.Get(0).(func(context.Context, int, string) bool); ok {
		r0 = rf(ctx, year, state)
	} else {
		r0 = ret.Get(0).(bool)
	}

	if rf, ok := ret.Get(1).(func(context.Context, int, string) error); ok {
		r1 = rf(ctx, year, state)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Delete provides a mock function with given fields: ctx, year, state
func (_m *MockLookup) Delete(ctx context.Context, year int, state string) (int64, error) {
	ret := _m.Called(ctx, year, state)

	if len(ret) == 0 {
		panic("no return value specified for Delete")
	}

	var r0 int64
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, int, string) (int64, error)); ok {
		return rf(ctx, year, state)
	}
	if rf, ok := ret.Get(0).(func(context.Context, int, string) int64); ok {
		r0 = rf(ctx, year, state)
	} else {
		r0 = ret.Get(0).(int64)
	}

	if rf, ok := ret.Get(1).(func(context.Context, int, string) error); ok {
		r1 = rf(ctx, year, state)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockLookup creates a new instance of MockLookup. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockLookup(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockLookup {
	m := &MockLookup{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
