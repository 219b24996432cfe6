package interfaces_test

import (
	"context"
	"time"

	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/types"
)

// These compile-time assertions guard against accidental interface drift.

type fakeConnection struct{}

func (f *fakeConnection) WriteEnvelope(env types.Envelope, critical bool) error { return nil }
func (f *fakeConnection) Close() error                                         { return nil }
func (f *fakeConnection) SocketID() string                                     { return "" }
func (f *fakeConnection) UserID() string                                       { return "" }
func (f *fakeConnection) SetUserID(userID string)                              {}

var _ interfaces.Connection = (*fakeConnection)(nil)

type fakeUserRepository struct{}

func (f *fakeUserRepository) GetUsername(ctx context.Context, userID string) (string, error) {
	return "", nil
}
func (f *fakeUserRepository) IsBanned(ctx context.Context, userID string) (bool, error) {
	return false, nil
}

var _ interfaces.UserRepository = (*fakeUserRepository)(nil)

type fakeFriendRepository struct{}

func (f *fakeFriendRepository) AreFriends(ctx context.Context, userA, userB string) (bool, error) {
	return false, nil
}

var _ interfaces.FriendRepository = (*fakeFriendRepository)(nil)

type fakeReportRepository struct{}

func (f *fakeReportRepository) CreateReport(ctx context.Context, report *types.Report) error {
	return nil
}

var _ interfaces.ReportRepository = (*fakeReportRepository)(nil)

type fakeAuthClient struct{}

func (f *fakeAuthClient) Authenticate(ctx context.Context, token string) (string, error) {
	return "", nil
}

var _ interfaces.AuthClient = (*fakeAuthClient)(nil)

type fakeMetricsSink struct{}

func (f *fakeMetricsSink) IncrCounter(name string, tags map[string]string)                {}
func (f *fakeMetricsSink) ObserveDuration(name string, tags map[string]string, d float64) {}

var _ interfaces.MetricsSink = (*fakeMetricsSink)(nil)

type fakeSubscription struct{ ch chan string }

func (f *fakeSubscription) Channel() <-chan string { return f.ch }
func (f *fakeSubscription) Close() error           { close(f.ch); return nil }

var _ interfaces.Subscription = (*fakeSubscription)(nil)

type fakeStore struct{}

func (f *fakeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (f *fakeStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeStore) Delete(ctx context.Context, key string) error { return nil }
func (f *fakeStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return nil
}
func (f *fakeStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	return 0, nil
}
func (f *fakeStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	return 0, nil
}
func (f *fakeStore) ZCard(ctx context.Context, key string) (int64, error) { return 0, nil }
func (f *fakeStore) ZRank(ctx context.Context, key, member string) (int64, bool, error) {
	return 0, false, nil
}
func (f *fakeStore) Publish(ctx context.Context, channel, message string) error { return nil }
func (f *fakeStore) Subscribe(ctx context.Context, channel string) (interfaces.Subscription, error) {
	return &fakeSubscription{ch: make(chan string)}, nil
}
func (f *fakeStore) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	return nil, 0, nil
}
func (f *fakeStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return "", false, nil
}
func (f *fakeStore) Release(ctx context.Context, key, token string) error { return nil }
func (f *fakeStore) Close() error                                        { return nil }

var _ interfaces.SharedStore = (*fakeStore)(nil)
