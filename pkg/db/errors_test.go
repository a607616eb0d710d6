package db

import (
	"errors"
	"testing"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{
			name:       "postgres named constraint",
			err:        errors.New(`ERROR: duplicate key value violates unique constraint "idempotency_keys_pkey" (SQLSTATE 23505)`),
			constraint: "idempotency_keys_pkey",
			want:       true,
		},
		{
			name:       "postgres phrasing without constraint name",
			err:        errors.New("duplicate key value violates unique constraint"),
			constraint: "",
			want:       true,
		},
		{
			name:       "sqlite phrasing",
			err:        errors.New("UNIQUE constraint failed: idempotency_keys.key"),
			constraint: "idempotency_keys_pkey",
			want:       true,
		},
		{
			name:       "unrelated error",
			err:        errors.New("connection refused"),
			constraint: "idempotency_keys_pkey",
			want:       false,
		},
		{
			name:       "nil error",
			err:        nil,
			constraint: "idempotency_keys_pkey",
			want:       false,
		},
	}
	for _, tc := range tests {
		if got := IsUniqueViolation(tc.err, tc.constraint); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
