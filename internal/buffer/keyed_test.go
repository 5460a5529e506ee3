package buffer

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/eventpipe/pkg/buffer"
)

func newTestKeyed(t *testing.T, cfg KeyedConfig, decode Decoder[string], encode Encoder[string]) *Keyed[string] {
	t.Helper()
	k, err := NewKeyed[string](cfg, decode, encode, zap.NewNop())
	if err != nil {
		t.Fatalf("NewKeyed: %v", err)
	}
	t.Cleanup(func() { _ = k.Shutdown() })
	return k
}

func TestKeyed_PreservesOrderPerKey(t *testing.T) {
	k := newTestKeyed(t, KeyedConfig{Partitions: 4, MaxBytes: 1024, BatchSize: 100}, decodeString, nil)
	ctx := context.Background()

	keys := []string{"trace-1", "trace-2", "trace-3"}
	for i := 0; i < 5; i++ {
		for _, key := range keys {
			payload := key + ":" + string(rune('0'+i))
			if err := k.WriteBytes(ctx, []byte(payload), key, time.Second); err != nil {
				t.Fatal(err)
			}
		}
	}

	records, state, err := k.Read(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if state.NumRecordsToBeChecked() != 15 {
		t.Fatalf("read %d records, want 15", state.NumRecordsToBeChecked())
	}

	perKey := map[string][]string{}
	for _, s := range data(records) {
		key, seq, _ := strings.Cut(s, ":")
		perKey[key] = append(perKey[key], seq)
	}
	for _, key := range keys {
		if got := perKey[key]; !slices.Equal(got, []string{"0", "1", "2", "3", "4"}) {
			t.Errorf("%s order = %v", key, got)
		}
	}
}

func TestKeyed_RoundRobinAcrossPartitions(t *testing.T) {
	k := newTestKeyed(t, KeyedConfig{Partitions: 2, MaxBytes: 1024, BatchSize: 2}, decodeString, nil)
	ctx := context.Background()

	// Find two keys that land on different partitions.
	a, b := "a", ""
	for _, candidate := range []string{"b", "c", "d", "e", "f", "g", "h"} {
		if k.partition(candidate) != k.partition(a) {
			b = candidate
			break
		}
	}
	if b == "" {
		t.Skip("no key found on a second partition")
	}

	for i := 0; i < 3; i++ {
		_ = k.WriteBytes(ctx, []byte(a), a, time.Second)
	}
	_ = k.WriteBytes(ctx, []byte(b), b, time.Second)

	records, _, err := k.Read(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	got := data(records)
	slices.Sort(got)
	if !slices.Equal(got, []string{a, b}) {
		t.Errorf("first batch = %v, want one payload from each partition", got)
	}
}

func TestKeyed_DecodeErrorsDropPayload(t *testing.T) {
	decode := func(p []byte, key string) ([]string, error) {
		if string(p) == "bad" {
			return nil, errors.New("malformed")
		}
		return strings.Split(string(p), ","), nil
	}
	k := newTestKeyed(t, KeyedConfig{Partitions: 1, MaxBytes: 64, BatchSize: 10}, decode, nil)
	ctx := context.Background()

	_ = k.WriteBytes(ctx, []byte("x,y"), "", time.Second)
	_ = k.WriteBytes(ctx, []byte("bad"), "", time.Second)
	_ = k.WriteBytes(ctx, []byte("z"), "", time.Second)

	records, state, err := k.Read(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := data(records); !slices.Equal(got, []string{"x", "y", "z"}) {
		t.Errorf("records = %v", got)
	}
	_ = k.Checkpoint(state)
	if !k.IsEmpty() {
		t.Error("expected empty buffer")
	}
}

func TestKeyed_CapacityReleasedOnRead(t *testing.T) {
	k := newTestKeyed(t, KeyedConfig{Partitions: 1, MaxBytes: 4, BatchSize: 10}, decodeString, nil)
	ctx := context.Background()

	if err := k.WriteBytes(ctx, []byte("abcd"), "k", time.Second); err != nil {
		t.Fatal(err)
	}
	if err := k.WriteBytes(ctx, []byte("e"), "k", 10*time.Millisecond); !errors.Is(err, buffer.ErrTimeout) {
		t.Fatalf("WriteBytes on full buffer = %v", err)
	}
	if _, _, err := k.Read(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := k.WriteBytes(ctx, []byte("e"), "k", 10*time.Millisecond); err != nil {
		t.Errorf("WriteBytes after read = %v", err)
	}
	if err := k.WriteBytes(ctx, []byte("too large"), "k", time.Second); !errors.Is(err, buffer.ErrSizeOverflow) {
		t.Errorf("oversized payload = %v, want ErrSizeOverflow", err)
	}
}

func TestKeyed_WriteWithoutEncoder(t *testing.T) {
	k := newTestKeyed(t, KeyedConfig{Partitions: 1, MaxBytes: 4, BatchSize: 1}, decodeString, nil)

	if !k.IsByteBuffer() {
		t.Error("Keyed must report byte-buffer mode")
	}
	if err := k.Write(context.Background(), rec("a"), time.Second); !errors.Is(err, buffer.ErrUnsupported) {
		t.Errorf("Write = %v, want ErrUnsupported", err)
	}
}

func TestKeyed_CopiesPayload(t *testing.T) {
	k := newTestKeyed(t, KeyedConfig{Partitions: 1, MaxBytes: 16, BatchSize: 1}, decodeString, nil)
	ctx := context.Background()

	payload := []byte("abc")
	_ = k.WriteBytes(ctx, payload, "", time.Second)
	payload[0] = 'z'

	records, _, _ := k.Read(ctx, 0)
	if got := data(records); !slices.Equal(got, []string{"abc"}) {
		t.Errorf("records = %v", got)
	}
}

func TestKeyed_DecodeDoesNotBlockOtherCalls(t *testing.T) {
	started := make(chan struct{})
	slowDecode := func(payload []byte, key string) ([]string, error) {
		if string(payload) == "slow" {
			close(started)
			time.Sleep(400 * time.Millisecond)
		}
		return decodeString(payload, key)
	}
	k := newTestKeyed(t, KeyedConfig{Partitions: 1, MaxBytes: 1024, BatchSize: 1}, slowDecode, nil)
	ctx := context.Background()

	if err := k.WriteBytes(ctx, []byte("slow"), "k", time.Second); err != nil {
		t.Fatal(err)
	}

	type result struct {
		records []buffer.Record[string]
		state   *buffer.CheckpointState
		err     error
	}
	done := make(chan result, 1)
	go func() {
		records, state, err := k.Read(ctx, time.Second)
		done <- result{records, state, err}
	}()
	<-started

	tests := []struct {
		name string
		call func() error
	}{
		{name: "is empty", call: func() error {
			if k.IsEmpty() {
				return errors.New("empty while a payload is decoding")
			}
			return nil
		}},
		{name: "write bytes", call: func() error {
			return k.WriteBytes(ctx, []byte("next"), "k", time.Second)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			if err := tt.call(); err != nil {
				t.Fatal(err)
			}
			if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
				t.Errorf("took %v while a decode was running", elapsed)
			}
		})
	}

	res := <-done
	if res.err != nil {
		t.Fatal(res.err)
	}
	if got := data(res.records); !slices.Equal(got, []string{"slow"}) {
		t.Fatalf("read %v, want [slow]", got)
	}
	if err := k.Checkpoint(res.state); err != nil {
		t.Fatal(err)
	}

	records, state, err := k.Read(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got := data(records); !slices.Equal(got, []string{"next"}) {
		t.Fatalf("second read %v, want [next]", got)
	}
	_ = k.Checkpoint(state)
	if !k.IsEmpty() {
		t.Error("buffer not empty after every record was checkpointed")
	}
}
