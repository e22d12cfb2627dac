package protocol

import (
	"errors"
	"testing"
)

func TestIntParam(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		want    int
		wantErr bool
	}{
		{name: "absent uses default", params: map[string]any{}, want: 60},
		{name: "null uses default", params: map[string]any{"n": nil}, want: 60},
		{name: "json number", params: map[string]any{"n": float64(30)}, want: 30},
		{name: "int", params: map[string]any{"n": 5}, want: 5},
		{name: "numeric string", params: map[string]any{"n": "12"}, want: 12},
		{name: "fractional", params: map[string]any{"n": 1.5}, wantErr: true},
		{name: "word", params: map[string]any{"n": "soon"}, wantErr: true},
		{name: "bool", params: map[string]any{"n": true}, wantErr: true},
		{name: "beyond int64", params: map[string]any{"n": 1e30}, wantErr: true},
		{name: "below int64", params: map[string]any{"n": -1e30}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IntParam(tt.params, "n", 60)
			if tt.wantErr {
				if !errors.Is(err, ErrBadRequest) {
					t.Fatalf("IntParam() error = %v, want ErrBadRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("IntParam() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IntParam() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMapListParam(t *testing.T) {
	params := map[string]any{
		"commands": []any{
			map[string]any{"device_id": "pi-01", "action": "off"},
			map[string]any{"device_id": "pi-02", "action": "solid"},
		},
		"bad":    []any{"x"},
		"scalar": "x",
	}

	got, err := MapListParam(params, "commands")
	if err != nil {
		t.Fatalf("MapListParam() error = %v", err)
	}
	if len(got) != 2 || got[1]["device_id"] != "pi-02" {
		t.Errorf("MapListParam() = %v", got)
	}

	for _, key := range []string{"missing", "bad", "scalar"} {
		if _, err := MapListParam(params, key); !errors.Is(err, ErrBadRequest) {
			t.Errorf("MapListParam(%q) error = %v, want ErrBadRequest", key, err)
		}
	}
}

func TestMapParam(t *testing.T) {
	got, err := MapParam(map[string]any{}, "params")
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("MapParam(absent) = %v, %v", got, err)
	}
	if _, err := MapParam(map[string]any{"params": 3}, "params"); !errors.Is(err, ErrBadRequest) {
		t.Errorf("MapParam(scalar) error = %v", err)
	}
}
