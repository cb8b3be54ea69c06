package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeShutdowner struct {
	err    error
	called bool
}

func (f *fakeShutdowner) Shutdown(ctx context.Context) error {
	f.called = true
	return f.err
}

func TestShutdown(t *testing.T) {
	tcases := []struct {
		name    string
		httpErr error
		chatErr error
	}{
		{name: "clean"},
		{name: "http server times out", httpErr: context.DeadlineExceeded},
		{name: "chat server times out", chatErr: context.DeadlineExceeded},
		{name: "both fail", httpErr: errors.New("listener busy"), chatErr: context.DeadlineExceeded},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			httpSrv := &fakeShutdowner{err: tc.httpErr}
			chatSrv := &fakeShutdowner{err: tc.chatErr}

			err := shutdown(context.Background(), httpSrv, chatSrv)

			assert.True(t, httpSrv.called, "expected http server to be shut down")
			assert.True(t, chatSrv.called, "expected chat server to be shut down")
			if tc.httpErr == nil && tc.chatErr == nil {
				assert.NoError(t, err)
				return
			}
			if tc.httpErr != nil {
				assert.ErrorIs(t, err, tc.httpErr)
			}
			if tc.chatErr != nil {
				assert.ErrorIs(t, err, tc.chatErr)
			}
		})
	}
}
