package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo evaluates the three lock conditions LockManager uses.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func attrS(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func attrN(av types.AttributeValue) int64 {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		v, _ := strconv.ParseInt(n.Value, 10, 64)
		return v
	}
	return 0
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[attrS(in.Key["resource"])]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := attrS(in.Item["resource"])
	if existing, ok := f.items[res]; ok {
		expired := attrN(existing["expires_at"]) < attrN(in.ExpressionAttributeValues[":now"])
		same := attrS(existing["owner"]) == attrS(in.ExpressionAttributeValues[":owner"])
		if !expired && !same {
			return nil, conditionFailed()
		}
	}
	f.items[res] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.items[attrS(in.Key["resource"])]
	if !ok || attrS(existing["owner"]) != attrS(in.ExpressionAttributeValues[":owner"]) {
		return nil, conditionFailed()
	}
	existing["expires_at"] = in.ExpressionAttributeValues[":expires_at"]
	return &dynamodb.UpdateItemOutput{Attributes: existing}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := attrS(in.Key["resource"])
	existing, ok := f.items[res]
	if !ok || attrS(existing["owner"]) != attrS(in.ExpressionAttributeValues[":owner"]) {
		return nil, conditionFailed()
	}
	delete(f.items, res)
	return &dynamodb.DeleteItemOutput{}, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time         { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// lockers returns both implementations driven by the same clock.
func lockers(c *clock) map[string]Locker {
	dyn := NewLockManager(newFakeDynamo(), "SoapnoteRunLocks", time.Minute)
	dyn.now = c.now
	mem := NewMemoryLocker(time.Minute)
	mem.now = c.now
	return map[string]Locker{"dynamodb": dyn, "memory": mem}
}

func TestLocker_AcquireAndRelease(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	for name, l := range lockers(c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			lock, err := l.AcquireLock(ctx, "chart-run", "run-1")
			if err != nil {
				t.Fatalf("AcquireLock failed: %v", err)
			}
			if lock.Resource != "chart-run" || lock.Owner != "run-1" || lock.ExpiresAt != c.t.Unix()+60 {
				t.Errorf("Lock mismatch: got %+v", lock)
			}

			status, err := l.GetLockStatus(ctx, "chart-run")
			if err != nil || status == nil || status.Owner != "run-1" {
				t.Fatalf("Expected active lock, got %+v, %v", status, err)
			}

			if err := l.ReleaseLock(ctx, "chart-run", "run-1"); err != nil {
				t.Fatalf("ReleaseLock failed: %v", err)
			}
			if status, _ := l.GetLockStatus(ctx, "chart-run"); status != nil {
				t.Error("Expected nil lock status after release")
			}
		})
	}
}

func TestLocker_Contention(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	for name, l := range lockers(c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := l.AcquireLock(ctx, "chart-run", "run-1"); err != nil {
				t.Fatalf("First acquire failed: %v", err)
			}
			if _, err := l.AcquireLock(ctx, "chart-run", "run-1"); err != nil {
				t.Errorf("Same owner should be able to re-acquire: %v", err)
			}
			if _, err := l.AcquireLock(ctx, "chart-run", "run-2"); !errors.Is(err, ErrLocked) {
				t.Errorf("Expected ErrLocked for another owner, got %v", err)
			}
			if err := l.ReleaseLock(ctx, "chart-run", "run-2"); !errors.Is(err, ErrLocked) {
				t.Errorf("Expected ErrLocked releasing another owner's lock, got %v", err)
			}
		})
	}
}

func TestLocker_ExpiredLockIsFree(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	for name, l := range lockers(c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := c.t
			defer func() { c.t = start }()

			if _, err := l.AcquireLock(ctx, "chart-run", "run-1"); err != nil {
				t.Fatalf("First acquire failed: %v", err)
			}
			c.advance(2 * time.Minute)

			if status, _ := l.GetLockStatus(ctx, "chart-run"); status != nil {
				t.Errorf("Expected expired lock to read as free, got %+v", status)
			}
			if _, err := l.AcquireLock(ctx, "chart-run", "run-2"); err != nil {
				t.Errorf("Should acquire expired lock: %v", err)
			}
		})
	}
}

func TestLocker_Heartbeat(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	for name, l := range lockers(c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := c.t
			defer func() { c.t = start }()

			lock, _ := l.AcquireLock(ctx, "chart-run", "run-1")
			c.advance(30 * time.Second)

			updated, err := l.Heartbeat(ctx, "chart-run", "run-1")
			if err != nil {
				t.Fatalf("Heartbeat failed: %v", err)
			}
			if updated.ExpiresAt != lock.ExpiresAt+30 {
				t.Errorf("Expected heartbeat to extend expiry: original=%d, updated=%d", lock.ExpiresAt, updated.ExpiresAt)
			}

			if _, err := l.Heartbeat(ctx, "chart-run", "run-2"); !errors.Is(err, ErrLocked) {
				t.Errorf("Expected ErrLocked for heartbeat by another owner, got %v", err)
			}
			_ = l.ReleaseLock(ctx, "chart-run", "run-1")
		})
	}
}

func TestLocker_GetLockStatus_Nonexistent(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	for name, l := range lockers(c) {
		t.Run(name, func(t *testing.T) {
			status, err := l.GetLockStatus(context.Background(), "nonexistent")
			if err != nil {
				t.Fatalf("GetLockStatus unexpected error: %v", err)
			}
			if status != nil {
				t.Error("Expected nil for nonexistent lock")
			}
		})
	}
}
