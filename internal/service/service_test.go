package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rajpalom13/move-meal-sub000/internal/cluster"
	"github.com/rajpalom13/move-meal-sub000/internal/geo"
	"github.com/rajpalom13/move-meal-sub000/internal/locker"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
	"github.com/rajpalom13/move-meal-sub000/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var origin = model.Point{Lat: 12.9352, Lng: 77.6245}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
	onEmit func(model.Event)
}

func (r *recorder) Emit(events ...model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range events {
		if r.onEmit != nil {
			r.onEmit(ev)
		}
		r.events = append(r.events, ev)
	}
}

func (r *recorder) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]model.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		res = append(res, ev.Kind)
	}
	return res
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fixedCodes struct{ n atomic.Int64 }

func (g *fixedCodes) Generate() (string, error) {
	return fmt.Sprintf("%04d", 1000+g.n.Add(1)), nil
}

func newTestService(t *testing.T, repo Repository, opts Options) (*Service, *recorder) {
	t.Helper()

	rec := &recorder{}
	if opts.Notifier == nil {
		opts.Notifier = rec
	}
	if opts.Locker == nil {
		opts.Locker = locker.NewLocal(time.Second)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return t0 }
	}
	if opts.NewID == nil {
		var seq atomic.Int64
		opts.NewID = func() string { return fmt.Sprintf("c-%d", seq.Add(1)) }
	}
	if opts.Codes == nil {
		opts.Codes = &fixedCodes{}
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	return NewService(repo, opts), rec
}

func createBasket(t *testing.T, svc *Service, creator int64, at model.Point) *model.Cluster {
	t.Helper()

	c, err := svc.CreateBasketCluster(context.Background(), model.Actor{ID: creator}, model.BasketClusterInput{
		Title:              "Dinner",
		Location:           at,
		MinimumBasket:      50000,
		MaxMembers:         5,
		DeliveryDistanceKm: 3,
		ScheduledAt:        t0.Add(time.Hour),
		Order:              model.BasketPayload{OrderAmount: 20000, Items: "biryani"},
	})
	if err != nil {
		t.Fatalf("CreateBasketCluster error: %v", err)
	}
	return c
}

func createRide(t *testing.T, svc *Service, creator int64, seats int) *model.Cluster {
	t.Helper()

	c, err := svc.CreateRideCluster(context.Background(), model.Actor{ID: creator, Gender: "female"}, model.RideClusterInput{
		Title:         "Airport run",
		Origin:        origin,
		Destination:   model.Point{Lat: 13.1986, Lng: 77.7066},
		SeatsRequired: seats,
		TotalFare:     80000,
		DepartureAt:   t0.Add(2 * time.Hour),
		Pickup:        model.RidePayload{Pickup: origin, Address: "Koramangala"},
	})
	if err != nil {
		t.Fatalf("CreateRideCluster error: %v", err)
	}
	return c
}

func pickup() model.Payload {
	return model.RidePayload{Pickup: origin}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t, repository.NewMemoryRepository(), Options{})
	ctx := context.Background()

	u, err := svc.RegisterUser(ctx, " Asha@Example.com ", "secret-pass", "Asha", "Female")
	if err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}
	if u.ID == 0 || u.Email != "asha@example.com" || u.Gender != "female" {
		t.Fatalf("unexpected user %+v", u)
	}
	if string(u.PasswordHash) == "secret-pass" {
		t.Fatalf("password stored in plain text")
	}

	if _, err := svc.RegisterUser(ctx, "asha@example.com", "another-pass", "Asha", ""); !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	got, err := svc.AuthenticateUser(ctx, "ASHA@example.com", "secret-pass")
	if err != nil {
		t.Fatalf("AuthenticateUser error: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("authenticated user %d, want %d", got.ID, u.ID)
	}

	if _, err := svc.AuthenticateUser(ctx, "asha@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.AuthenticateUser(ctx, "nobody@example.com", "secret-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestConcurrentJoinsForLastSeat(t *testing.T) {
	svc, _ := newTestService(t, repository.NewMemoryRepository(), Options{})
	ride := createRide(t, svc, 1, 2)

	var (
		mu       sync.Mutex
		ok       int
		rejected int
	)
	var g errgroup.Group
	for _, user := range []int64{2, 3} {
		g.Go(func() error {
			_, err := svc.Join(context.Background(), model.Actor{ID: user, Gender: "male"}, ride.ID, pickup())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, cluster.ErrCapacityExceeded):
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("ok = %d, rejected = %d; want exactly one of each", ok, rejected)
	}

	got, err := svc.GetCluster(context.Background(), ride.ID)
	if err != nil {
		t.Fatalf("GetCluster error: %v", err)
	}
	if cluster.SeatsAvailable(got) != 0 || got.Status != model.StatusFilled || len(got.Members) != 2 {
		t.Fatalf("unexpected final ride: seats %d status %s members %v",
			cluster.SeatsAvailable(got), got.Status, got.MemberIDs())
	}
}

func TestConcurrentJoinsNeverOverbook(t *testing.T) {
	svc, _ := newTestService(t, repository.NewMemoryRepository(), Options{})
	ride := createRide(t, svc, 1, 5)

	var joined atomic.Int64
	var g errgroup.Group
	for user := int64(2); user < 22; user++ {
		g.Go(func() error {
			_, err := svc.Join(context.Background(), model.Actor{ID: user}, ride.ID, pickup())
			if err == nil {
				joined.Add(1)
				return nil
			}
			if errors.Is(err, cluster.ErrCapacityExceeded) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if joined.Load() != 4 {
		t.Fatalf("joined = %d, want 4", joined.Load())
	}

	got, _ := svc.GetCluster(context.Background(), ride.ID)
	if len(got.Members) != 5 || got.Capacity.Current != 0 {
		t.Fatalf("members %d, seats %d", len(got.Members), got.Capacity.Current)
	}
}

// racingRepo подмешивает конкурирующую запись перед CompareAndSwap.
type racingRepo struct {
	*repository.MemoryRepository
	races   int
	intrude func(ctx context.Context, id string)
}

func (r *racingRepo) CompareAndSwap(ctx context.Context, expected int64, c *model.Cluster) error {
	if r.races > 0 {
		r.races--
		r.intrude(ctx, c.ID)
	}
	return r.MemoryRepository.CompareAndSwap(ctx, expected, c)
}

func TestJoinRetriesOnVersionConflict(t *testing.T) {
	mem := repository.NewMemoryRepository()
	repo := &racingRepo{MemoryRepository: mem, races: 1}
	repo.intrude = func(ctx context.Context, id string) {
		snap, err := mem.LoadCluster(ctx, id)
		if err != nil {
			t.Errorf("intruder load: %v", err)
			return
		}
		next := snap.Clone()
		if _, err := cluster.Join(next, model.Actor{ID: 2}, model.BasketPayload{OrderAmount: 5000}, cluster.GenderMatch, t0); err != nil {
			t.Errorf("intruder join: %v", err)
			return
		}
		if err := mem.CompareAndSwap(ctx, snap.Version, next); err != nil {
			t.Errorf("intruder cas: %v", err)
		}
	}

	svc, rec := newTestService(t, repo, Options{})
	basket := createBasket(t, svc, 1, origin)
	rec.reset()

	got, err := svc.Join(context.Background(), model.Actor{ID: 3}, basket.ID, model.BasketPayload{OrderAmount: 7000})
	if err != nil {
		t.Fatalf("Join error: %v", err)
	}
	if ids := got.MemberIDs(); len(ids) != 3 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("members = %v, want [1 2 3]", ids)
	}
	if got.Capacity.Current != 32000 {
		t.Fatalf("current = %d, want 32000", got.Capacity.Current)
	}
	if got.Version != 3 {
		t.Fatalf("version = %d, want 3", got.Version)
	}
	if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != model.EventMemberJoined {
		t.Fatalf("events = %v, want a single member_joined", kinds)
	}
}

type conflictRepo struct {
	*repository.MemoryRepository
	calls atomic.Int64
}

func (r *conflictRepo) CompareAndSwap(ctx context.Context, expected int64, c *model.Cluster) error {
	r.calls.Add(1)
	return fmt.Errorf("%w: forced", repository.ErrVersionConflict)
}

func TestJoinGivesUpAfterRetries(t *testing.T) {
	repo := &conflictRepo{MemoryRepository: repository.NewMemoryRepository()}
	svc, rec := newTestService(t, repo, Options{MutationRetries: 2})
	basket := createBasket(t, svc, 1, origin)
	rec.reset()

	_, err := svc.Join(context.Background(), model.Actor{ID: 2}, basket.ID, model.BasketPayload{OrderAmount: 1000})
	if !errors.Is(err, repository.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if n := repo.calls.Load(); n != 3 {
		t.Fatalf("CompareAndSwap calls = %d, want 3", n)
	}
	if len(rec.kinds()) != 0 {
		t.Fatalf("no events expected after failed mutation, got %v", rec.kinds())
	}

	stored, _ := repo.LoadCluster(context.Background(), basket.ID)
	if len(stored.Members) != 1 || stored.Version != 1 {
		t.Fatalf("storage changed: members %v version %d", stored.MemberIDs(), stored.Version)
	}
}

func TestEventsEmittedAfterCommit(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc, rec := newTestService(t, repo, Options{})
	basket := createBasket(t, svc, 1, origin)

	var checked atomic.Int64
	rec.onEmit = func(ev model.Event) {
		if ev.Kind != model.EventMemberJoined {
			return
		}
		stored, err := repo.LoadCluster(context.Background(), ev.ClusterID)
		if err != nil {
			t.Errorf("load on emit: %v", err)
			return
		}
		if _, ok := stored.Member(ev.UserID); !ok {
			t.Errorf("event for user %d emitted before commit", ev.UserID)
		}
		checked.Add(1)
	}

	if _, err := svc.Join(context.Background(), model.Actor{ID: 2}, basket.ID, model.BasketPayload{OrderAmount: 1000}); err != nil {
		t.Fatalf("Join error: %v", err)
	}
	if checked.Load() != 1 {
		t.Fatalf("member_joined not emitted")
	}
}

// slowNotifier задерживает первое событие member_joined, чтобы следующая
// мутация успела конкурировать за кластер.
type slowNotifier struct {
	delay   time.Duration
	entered chan struct{}
	slowed  atomic.Bool

	mu     sync.Mutex
	joined []int64
}

func (n *slowNotifier) Emit(events ...model.Event) {
	for _, ev := range events {
		if ev.Kind == model.EventMemberJoined && n.slowed.CompareAndSwap(false, true) {
			close(n.entered)
			time.Sleep(n.delay)
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ev := range events {
		if ev.Kind == model.EventMemberJoined {
			n.joined = append(n.joined, ev.UserID)
		}
	}
}

func TestEventsFollowCommitOrder(t *testing.T) {
	repo := repository.NewMemoryRepository()
	notifier := &slowNotifier{delay: 50 * time.Millisecond, entered: make(chan struct{})}
	svc, _ := newTestService(t, repo, Options{Notifier: notifier})
	basket := createBasket(t, svc, 1, origin)
	ctx := context.Background()

	var g errgroup.Group
	g.Go(func() error {
		_, err := svc.Join(ctx, model.Actor{ID: 2}, basket.ID, model.BasketPayload{OrderAmount: 1000})
		return err
	})
	<-notifier.entered
	g.Go(func() error {
		_, err := svc.Join(ctx, model.Actor{ID: 3}, basket.ID, model.BasketPayload{OrderAmount: 1000})
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("Join error: %v", err)
	}

	stored, err := repo.LoadCluster(ctx, basket.ID)
	if err != nil {
		t.Fatalf("LoadCluster error: %v", err)
	}
	committed := stored.MemberIDs()[1:]

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if fmt.Sprint(notifier.joined) != fmt.Sprint(committed) {
		t.Fatalf("emit order = %v, commit order = %v", notifier.joined, committed)
	}
}

func TestRejectedMutationEmitsNothing(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc, rec := newTestService(t, repo, Options{})
	basket := createBasket(t, svc, 1, origin)
	rec.reset()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{
			name: "creator leave",
			run: func() error {
				_, err := svc.Leave(context.Background(), 1, basket.ID)
				return err
			},
			want: cluster.ErrForbidden,
		},
		{
			name: "non creator status change",
			run: func() error {
				_, err := svc.UpdateStatus(context.Background(), 2, basket.ID, model.StatusOrdered)
				return err
			},
			want: cluster.ErrForbidden,
		},
		{
			name: "wrong payload kind",
			run: func() error {
				_, err := svc.Join(context.Background(), model.Actor{ID: 2}, basket.ID, pickup())
				return err
			},
			want: cluster.ErrInvalidPayload,
		},
		{
			name: "unknown cluster",
			run: func() error {
				_, err := svc.Join(context.Background(), model.Actor{ID: 2}, "missing", model.BasketPayload{OrderAmount: 1})
				return err
			},
			want: repository.ErrClusterNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if len(rec.kinds()) != 0 {
		t.Fatalf("rejected mutations emitted %v", rec.kinds())
	}
	stored, _ := repo.LoadCluster(context.Background(), basket.ID)
	if stored.Version != 1 {
		t.Fatalf("version = %d, want 1", stored.Version)
	}
}

type timeoutLocker struct{}

func (timeoutLocker) Acquire(context.Context, string) (func(), error) {
	return nil, locker.ErrLockTimeout
}

func TestLockTimeoutLeavesClusterUntouched(t *testing.T) {
	repo := repository.NewMemoryRepository()
	creator, _ := newTestService(t, repo, Options{})
	basket := createBasket(t, creator, 1, origin)

	svc, rec := newTestService(t, repo, Options{Locker: timeoutLocker{}})
	_, err := svc.Join(context.Background(), model.Actor{ID: 2}, basket.ID, model.BasketPayload{OrderAmount: 1000})
	if !errors.Is(err, locker.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if len(rec.kinds()) != 0 {
		t.Fatalf("unexpected events %v", rec.kinds())
	}
	stored, _ := repo.LoadCluster(context.Background(), basket.ID)
	if len(stored.Members) != 1 {
		t.Fatalf("members = %v", stored.MemberIDs())
	}
}

func TestGetClusterIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, repository.NewMemoryRepository(), Options{})
	basket := createBasket(t, svc, 1, origin)
	if _, err := svc.Join(context.Background(), model.Actor{ID: 2}, basket.ID, model.BasketPayload{OrderAmount: 4000}); err != nil {
		t.Fatalf("Join error: %v", err)
	}

	first, err := svc.GetCluster(context.Background(), basket.ID)
	if err != nil {
		t.Fatalf("GetCluster error: %v", err)
	}
	second, _ := svc.GetCluster(context.Background(), basket.ID)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Fatalf("reads differ:\n%s\n%s", a, b)
	}
}

func TestBasketLifecycle(t *testing.T) {
	svc, rec := newTestService(t, repository.NewMemoryRepository(), Options{})
	ctx := context.Background()
	basket := createBasket(t, svc, 1, origin)

	for _, u := range []int64{2, 3} {
		if _, err := svc.Join(ctx, model.Actor{ID: u}, basket.ID, model.BasketPayload{OrderAmount: 15000}); err != nil {
			t.Fatalf("Join(%d) error: %v", u, err)
		}
	}

	for _, to := range []model.Status{model.StatusFilled, model.StatusOrdered, model.StatusReady} {
		if _, err := svc.UpdateStatus(ctx, 1, basket.ID, to); err != nil {
			t.Fatalf("UpdateStatus(%s) error: %v", to, err)
		}
	}

	var codes map[int64]string
	for _, ev := range rec.events {
		if ev.Kind == model.EventCodesIssued {
			codes = ev.Codes
		}
	}
	if len(codes) != 2 {
		t.Fatalf("codes issued = %v, want two", codes)
	}

	if _, err := svc.UpdateStatus(ctx, 1, basket.ID, model.StatusCompleted); !errors.Is(err, cluster.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before collection, got %v", err)
	}

	for _, u := range []int64{2, 3} {
		_, who, err := svc.VerifyCode(ctx, 1, basket.ID, codes[u])
		if err != nil {
			t.Fatalf("VerifyCode(%d) error: %v", u, err)
		}
		if who != u {
			t.Fatalf("code of %d verified for %d", u, who)
		}
	}
	if _, _, err := svc.VerifyCode(ctx, 1, basket.ID, codes[2]); !errors.Is(err, cluster.ErrAlreadyCollected) {
		t.Fatalf("expected ErrAlreadyCollected, got %v", err)
	}

	done, err := svc.UpdateStatus(ctx, 1, basket.ID, model.StatusCompleted)
	if err != nil {
		t.Fatalf("complete error: %v", err)
	}
	if done.Status != model.StatusCompleted {
		t.Fatalf("status = %s", done.Status)
	}

	mine, err := svc.MyClusters(ctx, 3)
	if err != nil || len(mine) != 1 || mine[0].ID != basket.ID {
		t.Fatalf("MyClusters = %v, %v", mine, err)
	}
}

type stubGeo struct {
	res        *geo.NearbyResult
	status     int
	retryAfter time.Duration
	err        error
	calls      int
}

func (s *stubGeo) Nearby(context.Context, model.Point, float64, model.Kind) (*geo.NearbyResult, int, time.Duration, error) {
	s.calls++
	return s.res, s.status, s.retryAfter, s.err
}

func TestNearby(t *testing.T) {
	near := model.Point{Lat: 12.9360, Lng: 77.6250}

	tests := []struct {
		name string
		geo  *stubGeo
		want []string
	}{
		{name: "storage only", want: []string{"c-2"}},
		{
			name: "geo ids",
			geo:  &stubGeo{status: http.StatusOK, res: &geo.NearbyResult{ClusterIDs: []string{"missing", "c-2", "c-1", "c-3"}}},
			want: []string{"c-2"},
		},
		{
			name: "geo throttled",
			geo:  &stubGeo{status: http.StatusTooManyRequests, retryAfter: time.Minute},
			want: []string{"c-2"},
		},
		{
			name: "geo down",
			geo:  &stubGeo{err: errors.New("connection refused")},
			want: []string{"c-2"},
		},
		{
			name: "geo empty",
			geo:  &stubGeo{status: http.StatusNoContent},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{}
			if tt.geo != nil {
				opts.Geo = tt.geo
			}
			svc, _ := newTestService(t, repository.NewMemoryRepository(), opts)
			ctx := context.Background()

			createBasket(t, svc, 1, origin)
			createBasket(t, svc, 2, near)
			cancelled := createBasket(t, svc, 3, near)
			if _, err := svc.UpdateStatus(ctx, 3, cancelled.ID, model.StatusCancelled); err != nil {
				t.Fatalf("cancel error: %v", err)
			}

			got, err := svc.Nearby(ctx, model.Actor{ID: 1}, NearbyQuery{Point: origin, RadiusKm: 5, Kind: model.KindBasket})
			if err != nil {
				t.Fatalf("Nearby error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d candidates, want %v", len(got), tt.want)
			}
			for i, c := range got {
				if c.Cluster.ID != tt.want[i] {
					t.Fatalf("candidate %d = %s, want %s", i, c.Cluster.ID, tt.want[i])
				}
			}
			if tt.geo != nil && tt.geo.calls != 1 {
				t.Fatalf("geo calls = %d, want 1", tt.geo.calls)
			}
		})
	}
}

func TestNearbyLimitKeepsNearest(t *testing.T) {
	now := t0
	svc, _ := newTestService(t, repository.NewMemoryRepository(), Options{
		Now: func() time.Time {
			now = now.Add(time.Minute)
			return now
		},
	})
	ctx := context.Background()

	nearest := createBasket(t, svc, 1, model.Point{Lat: 12.9360, Lng: 77.6250})
	for i := range 3 {
		createBasket(t, svc, int64(2+i), model.Point{Lat: 12.9352 + 0.02*float64(i+1), Lng: 77.6245})
	}

	got, err := svc.Nearby(ctx, model.Actor{ID: 9}, NearbyQuery{Point: origin, RadiusKm: 10, Kind: model.KindBasket, Limit: 1})
	if err != nil {
		t.Fatalf("Nearby error: %v", err)
	}
	if len(got) != 1 || got[0].Cluster.ID != nearest.ID {
		t.Fatalf("got %v, want only %s", got, nearest.ID)
	}
}
