package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// printedCode is the Firestore document of one registered code.
type printedCode struct {
	Code      string    `firestore:"code"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// FirestoreRegistry keeps one document per code. Create fails when the
// document exists, which makes it the insert-if-absent primitive. Units of
// work undo by deleting what they created.
type FirestoreRegistry struct {
	client     *firestore.Client
	collection string
	closed     atomic.Bool
}

// NewFirestore uses client, which the caller owns.
func NewFirestore(client *firestore.Client, collection string) *FirestoreRegistry {
	return &FirestoreRegistry{client: client, collection: collection}
}

// DocID maps a code to its document ID. Codes may contain '/', which
// Firestore IDs cannot.
func DocID(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func (r *FirestoreRegistry) ref(code string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(DocID(code))
}

func (r *FirestoreRegistry) Begin(context.Context) (UnitOfWork, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	return newCompensatingUnit(r), nil
}

func (r *FirestoreRegistry) ReadAll(ctx context.Context) (Snapshot, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	snap := Snapshot{}
	iter := r.client.Collection(r.collection).Select("code").Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read codes: %w", err)
		}
		var pc printedCode
		if err := doc.DataTo(&pc); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", doc.Ref.ID, err)
		}
		snap[pc.Code] = struct{}{}
	}
	return snap, nil
}

func (r *FirestoreRegistry) Release(ctx context.Context, list []string) ([]string, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	var released []string
	for _, code := range list {
		_, err := r.ref(code).Delete(ctx, firestore.Exists)
		if status.Code(err) == codes.NotFound {
			continue
		}
		if err != nil {
			return released, fmt.Errorf("failed to release %s: %w", code, err)
		}
		released = append(released, code)
	}
	return released, nil
}

func (r *FirestoreRegistry) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *FirestoreRegistry) insertIfAbsent(ctx context.Context, code string) (bool, error) {
	_, err := r.ref(code).Create(ctx, printedCode{Code: code, CreatedAt: time.Now().UTC()})
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to register code: %w", err)
	}
	return true, nil
}

func (r *FirestoreRegistry) remove(ctx context.Context, list []string) error {
	if len(list) == 0 {
		return nil
	}
	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(list))
	for _, code := range list {
		job, err := bw.Delete(r.ref(code))
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue delete of %s: %w", code, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", list[i], err)
		}
	}
	return nil
}
