package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "token expired", err: fmt.Errorf("wrapped: %w", ErrTokenExpired), want: false},
		{name: "bad gateway", err: &HTTPError{StatusCode: 502}, want: true},
		{name: "rate limited", err: &HTTPError{StatusCode: 429}, want: true},
		{name: "bad request", err: &HTTPError{StatusCode: 400}, want: false},
		{name: "deadline", err: fmt.Errorf("pass: %w", context.DeadlineExceeded), want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{
			name: "cancelled request",
			err:  &url.Error{Op: "Get", URL: "https://api.example.com", Err: context.Canceled},
			want: false,
		},
		{
			name: "connection refused",
			err:  &url.Error{Op: "Get", URL: "https://api.example.com", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}},
			want: true,
		},
		{name: "invalid fetch params", err: ErrInvalidFetchParams, want: false},
		{name: "decode failure", err: fmt.Errorf("failed to decode provider response: %w", &json.SyntaxError{Offset: 3}), want: false},
		{name: "local failure", err: errors.New("failed to decrypt access token"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
