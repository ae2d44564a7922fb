package authclient

import (
	"context"
	"testing"
	"time"
)

func TestController_BootstrapFromCookie(t *testing.T) {
	f := newFakeAuthServer(t)

	// Establish the cookie, then forget the access token as a fresh process
	// would.
	c := newLoggedInClient(t, f)
	c.Cache().Clear()

	ctrl := NewController(c, nil)
	defer ctrl.Close()

	if ctrl.State() != StateInitializing {
		t.Fatalf("state before start = %v", ctrl.State())
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ctrl.State() != StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", ctrl.State())
	}
	u, ok := ctrl.User()
	if !ok || u.ID != "u1" {
		t.Fatalf("user = %+v ok=%v", u, ok)
	}
	if _, ok := c.Cache().Get(); !ok {
		t.Fatal("bootstrap should cache an access token")
	}
}

func TestController_BootstrapWithoutCookie(t *testing.T) {
	f := newFakeAuthServer(t)

	c, err := New(f.srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctrl := NewController(c, nil)
	defer ctrl.Close()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ctrl.State() != StateUnauthenticated {
		t.Fatalf("state = %v, want unauthenticated", ctrl.State())
	}
	if _, ok := ctrl.User(); ok {
		t.Fatal("no user expected")
	}
}

func TestController_LogoutClearsStateAndTimer(t *testing.T) {
	f := newFakeAuthServer(t)
	c := newLoggedInClient(t, f)

	ctrl := NewController(c, nil)
	defer ctrl.Close()
	ctrl.SetAuthenticated(User{ID: "u1"})

	if err := ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if ctrl.State() != StateUnauthenticated {
		t.Fatalf("state = %v, want unauthenticated", ctrl.State())
	}
	if _, ok := c.Cache().Get(); ok {
		t.Fatal("cache should be empty after logout")
	}

	ctrl.mu.Lock()
	timer := ctrl.timer
	ctrl.mu.Unlock()
	if timer != nil {
		t.Fatal("proactive refresh timer should be cancelled")
	}
}

func TestController_ProactiveRefresh(t *testing.T) {
	f := newFakeAuthServer(t)
	f.mu.Lock()
	f.accessTTL = 150 * time.Millisecond
	f.mu.Unlock()

	c := newLoggedInClient(t, f)

	// Margin larger than the TTL forces an immediate proactive refresh.
	ctrl := NewController(c, nil, WithRefreshMargin(100*time.Millisecond))
	defer ctrl.Close()
	ctrl.SetAuthenticated(User{ID: "u1"})

	deadline := time.Now().Add(2 * time.Second)
	for f.refreshCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("proactive refresh never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if ctrl.State() != StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", ctrl.State())
	}
}

func TestController_FailedProactiveRefreshForcesLogout(t *testing.T) {
	f := newFakeAuthServer(t)
	f.mu.Lock()
	f.accessTTL = 150 * time.Millisecond
	f.mu.Unlock()

	c := newLoggedInClient(t, f)

	f.mu.Lock()
	f.refreshFail = true
	f.mu.Unlock()

	ctrl := NewController(c, nil, WithRefreshMargin(100*time.Millisecond))
	defer ctrl.Close()
	ctrl.SetAuthenticated(User{ID: "u1"})

	deadline := time.Now().Add(2 * time.Second)
	for ctrl.State() != StateUnauthenticated {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want unauthenticated", ctrl.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := c.Cache().Get(); ok {
		t.Fatal("cache should be cleared after failed proactive refresh")
	}
}

func TestController_CrossTabLogout(t *testing.T) {
	f := newFakeAuthServer(t)
	bc := NewMemoryBroadcaster()

	// Tab A.
	cA := newLoggedInClient(t, f)
	ctrlA := NewController(cA, bc)
	defer ctrlA.Close()
	if err := ctrlA.Start(context.Background()); err != nil {
		t.Fatalf("start A: %v", err)
	}

	// Tab B shares the browser profile: same server session, own client.
	cB := newLoggedInClient(t, f)
	ctrlB := NewController(cB, bc)
	defer ctrlB.Close()
	if err := ctrlB.Start(context.Background()); err != nil {
		t.Fatalf("start B: %v", err)
	}
	if ctrlB.State() != StateAuthenticated {
		t.Fatalf("tab B state = %v", ctrlB.State())
	}

	f.mu.Lock()
	logoutsBefore := f.logoutCalls
	f.mu.Unlock()

	if err := ctrlA.Logout(context.Background()); err != nil {
		t.Fatalf("logout A: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ctrlB.State() != StateUnauthenticated {
		if time.Now().After(deadline) {
			t.Fatalf("tab B state = %v, want unauthenticated", ctrlB.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Tab B deauthenticated locally, with no network call of its own.
	f.mu.Lock()
	logoutsAfter := f.logoutCalls
	f.mu.Unlock()
	if logoutsAfter != logoutsBefore+1 {
		t.Fatalf("logout calls = %d, want %d", logoutsAfter, logoutsBefore+1)
	}
	if _, ok := cB.Cache().Get(); ok {
		t.Fatal("tab B cache should be cleared")
	}
}

func TestMemoryBroadcaster_FanOutAndUnsubscribe(t *testing.T) {
	bc := NewMemoryBroadcaster()

	ch1, cancel1 := bc.SubscribeLogout()
	ch2, cancel2 := bc.SubscribeLogout()
	defer cancel2()

	bc.PublishLogout()
	for i, ch := range []<-chan struct{}{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d missed signal", i+1)
		}
	}

	cancel1()
	bc.PublishLogout()
	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber missed signal")
	}
	select {
	case <-ch1:
		t.Fatal("cancelled subscriber received signal")
	default:
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		in   State
		want string
	}{
		{in: StateInitializing, want: "initializing"},
		{in: StateAuthenticated, want: "authenticated"},
		{in: StateUnauthenticated, want: "unauthenticated"},
		{in: State(99), want: "unknown"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.want {
			t.Fatalf("State(%d).String()=%q want=%q", tc.in, got, tc.want)
		}
	}
}
