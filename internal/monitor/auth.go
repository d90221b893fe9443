package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smartweb-monitor/internal/conn"
	"smartweb-monitor/internal/protocol"
)

var (
	ErrLoginTimeout    = errors.New("login not acknowledged by controller")
	ErrLoginRejected   = errors.New("login rejected")
	ErrLoginInProgress = errors.New("login already in progress")
)

// AuthState is the login slice of application state.
type AuthState struct {
	LoggedIn      bool               `json:"logged_in"`
	LoggingIn     bool               `json:"logging_in"`
	Username      string             `json:"username,omitempty"`
	User          *protocol.UserInfo `json:"user,omitempty"`
	ServerVersion string             `json:"server_version,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
	LoggedInAt    time.Time          `json:"logged_in_at,omitempty"`
}

// AuthStore logs in over the shared connection.
type AuthStore struct {
	m          *Monitor
	ackTimeout time.Duration

	mu     sync.Mutex
	state  AuthState
	cookie string
}

// State returns a copy of the login state.
func (a *AuthStore) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Cookie returns the session cookie from the last loginok.
func (a *AuthStore) Cookie() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cookie
}

func (a *AuthStore) ClearError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.LastError = ""
}

// Login connects if needed, sends LOGIN and waits for the controller to
// acknowledge it with loginok. A login frame carrying an error message, an
// error frame, a dropped connection or the ack timeout all fail the login.
//
// Login waits for frames, so it must not be called from a connection
// listener or event handler.
func (a *AuthStore) Login(ctx context.Context, username, password string) error {
	a.mu.Lock()
	if a.state.LoggingIn {
		a.mu.Unlock()
		return ErrLoginInProgress
	}
	a.state.LoggingIn = true
	a.state.LastError = ""
	a.mu.Unlock()

	ack, err := a.login(ctx, username, password)

	a.mu.Lock()
	a.state.LoggingIn = false
	if err != nil {
		a.state.LoggedIn = false
		a.state.LastError = err.Error()
		a.mu.Unlock()
		a.m.logger.Warn("login failed", "username", username, "err", err)
		return err
	}
	name := ack.Username
	if name == "" {
		name = username
	}
	a.state.LoggedIn = true
	a.state.Username = name
	a.state.User = ack.User
	a.state.ServerVersion = ack.Version
	a.state.LoggedInAt = time.Now()
	a.cookie = ack.Cookie
	a.mu.Unlock()

	a.m.logger.Info("logged in", "username", name, "version", ack.Version)
	a.m.events.Emit(Event{Type: EventLogin, Data: LoginData{Username: name, Version: ack.Version, User: ack.User}})
	return nil
}

func (a *AuthStore) login(ctx context.Context, username, password string) (*protocol.Login, error) {
	mgr := a.m.conn
	if mgr.Status() != conn.StatusOpen {
		if err := mgr.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		if mgr.Status() != conn.StatusOpen {
			return nil, ErrNotOpen
		}
	}

	replies := make(chan protocol.Message, 1)
	offer := func(msg protocol.Message) {
		select {
		case replies <- msg:
		default:
		}
	}
	removeMsg := mgr.OnMessage(func(frame string) {
		msg, err := protocol.Decode(frame)
		if err != nil {
			return
		}
		switch v := msg.(type) {
		case *protocol.Login:
			// A bare login frame is a challenge; only an ack or an error
			// message settles the attempt.
			if v.OK || protocol.HasErrorSignal(v) {
				offer(v)
			}
		case *protocol.Error:
			offer(v)
		}
	})
	defer removeMsg()
	lost := make(chan struct{}, 1)
	removeStatus := mgr.OnStatus(func(s conn.Status) {
		if s == conn.StatusClosed || s == conn.StatusError {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})
	defer removeStatus()

	if !mgr.Login(username, password) {
		return nil, ErrSendFailed
	}

	timer := time.NewTimer(a.ackTimeout)
	defer timer.Stop()
	select {
	case msg := <-replies:
		switch v := msg.(type) {
		case *protocol.Login:
			if v.OK {
				return v, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrLoginRejected, v.Msg)
		case *protocol.Error:
			return nil, fmt.Errorf("%w: %s", ErrLoginRejected, v.Message)
		}
		return nil, ErrLoginRejected
	case <-lost:
		return nil, ErrNotOpen
	case <-timer.C:
		return nil, ErrLoginTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Logout sends LOGOUT when connected and clears the login state either
// way.
func (a *AuthStore) Logout() error {
	var err error
	if a.m.conn.Status() == conn.StatusOpen && !a.m.conn.Logout() {
		err = ErrSendFailed
	}
	a.reset("logout", "")
	return err
}

func (a *AuthStore) connectionLost() {
	a.mu.Lock()
	loggedIn := a.state.LoggedIn
	a.mu.Unlock()
	if loggedIn {
		a.reset("connection_lost", ErrNotOpen.Error())
	}
}

func (a *AuthStore) reset(reason, lastError string) {
	a.mu.Lock()
	was := a.state.LoggedIn
	a.state = AuthState{LoggingIn: a.state.LoggingIn, LastError: lastError}
	a.cookie = ""
	a.mu.Unlock()
	if was {
		a.m.logger.Info("logged out", "reason", reason)
		a.m.events.Emit(Event{Type: EventLogout, Data: LogoutData{Reason: reason}})
	}
}
