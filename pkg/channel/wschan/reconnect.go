package wschan

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConnState tracks the ReconnectingConn lifecycle.
type ConnState int

const (
	ConnStateUnknown ConnState = iota
	ConnStateConnecting
	ConnStateConnected
	ConnStateDisconnecting
	ConnStateDisconnected
)

// TransitionTo validates a state change, returning the new state or an
// error for an illegal transition.
func (s ConnState) TransitionTo(newState ConnState) (ConnState, error) {
	switch s {
	case ConnStateConnecting:
		switch newState {
		case ConnStateConnected, ConnStateDisconnected:
			return newState, nil
		}
	case ConnStateConnected:
		switch newState {
		case ConnStateDisconnecting, ConnStateDisconnected:
			return newState, nil
		}
	case ConnStateDisconnecting:
		if newState == ConnStateDisconnected {
			return newState, nil
		}
	case ConnStateDisconnected:
		switch newState {
		case ConnStateConnecting, ConnStateDisconnected:
			return newState, nil
		}
	}
	return ConnStateUnknown, fmt.Errorf("invalid state transition from %v to %v", s, newState)
}

// ReconnectingConn wraps a Conn and re-dials whenever the relay link is
// observed down. Because Conn keeps topic interest registered locally, a
// successful re-dial restores every subscription before events resume.
//
// The reconnection loop starts only after the initial Connect succeeds;
// a failed initial connection is returned to the caller, who decides
// whether to retry or bail out.
type ReconnectingConn struct {
	*Conn

	// CheckInterval is how often the link is probed. Default 5s.
	CheckInterval time.Duration

	connCloseCh       chan struct{}
	reconnLoopCloseCh chan struct{}

	state ConnState
	mu    sync.Mutex
}

// NewReconnecting wraps c with automatic reconnection.
func NewReconnecting(c *Conn, checkInterval time.Duration) *ReconnectingConn {
	return &ReconnectingConn{
		Conn:          c,
		state:         ConnStateDisconnected,
		CheckInterval: checkInterval,
	}
}

func (rc *ReconnectingConn) transitionTo(newState ConnState) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	newState, err := rc.state.TransitionTo(newState)
	if err != nil {
		return err
	}
	rc.state = newState
	return nil
}

func (rc *ReconnectingConn) mustTransitionTo(newState ConnState) {
	if err := rc.transitionTo(newState); err != nil {
		panic(fmt.Sprintf("BUG: %v", err))
	}
}

func (rc *ReconnectingConn) Connect(ctx context.Context) error {
	if err := rc.transitionTo(ConnStateConnecting); err != nil {
		// the loop is already running; let it pick the link back up
		return rc.Conn.Connect(ctx)
	}

	if err := rc.Conn.Connect(ctx); err != nil {
		rc.mustTransitionTo(ConnStateDisconnected)
		return err
	}

	rc.connCloseCh = make(chan struct{})
	rc.reconnLoopCloseCh = make(chan struct{})

	go rc.reconnectionLoop()

	rc.mustTransitionTo(ConnStateConnected)
	return nil
}

// Close stops the reconnection loop first so it cannot redial a
// connection that is being shut down, then closes the link.
func (rc *ReconnectingConn) Close() error {
	if err := rc.transitionTo(ConnStateDisconnecting); err != nil {
		return fmt.Errorf("connection is already closing or closed: %w", err)
	}
	defer rc.mustTransitionTo(ConnStateDisconnected)

	close(rc.connCloseCh)
	<-rc.reconnLoopCloseCh

	return rc.Conn.Close()
}

func (rc *ReconnectingConn) reconnectionLoop() {
	checkInterval := 5 * time.Second
	if rc.CheckInterval > 0 {
		checkInterval = rc.CheckInterval
	}

	defer close(rc.reconnLoopCloseCh)

	for {
		select {
		case <-rc.connCloseCh:
			return
		case <-time.After(checkInterval):
		}

		if rc.Conn.Connected() {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := rc.Conn.Connect(ctx)
		cancel()
		if err != nil {
			rc.logger.Debug("reconnect attempt failed", "err", err)
		} else {
			rc.logger.Info("relay connection re-established")
		}
	}
}
