package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const deptField = "dept"

// OpenFirebase initialises a Firebase app from a credentials file, or from
// application default credentials when credsPath is empty.
func OpenFirebase(ctx context.Context, credsPath, projectID string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credsPath != "" {
		log.Printf("[FIREBASE] using credentials from %s", credsPath)
		opts = append(opts, option.WithCredentialsFile(credsPath))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	return app, nil
}

// Firestore implements Store on Cloud Firestore. Ledger entries live as
// roll-number keyed map fields of the users/{accountId} document.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore opens a Firestore client from an initialised Firebase app.
func NewFirestore(ctx context.Context, app *firebase.App) (*Firestore, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

func (f *Firestore) userRef(accountID string) *firestore.DocumentRef {
	return f.client.Collection(UsersCollection).Doc(accountID)
}

// Account reads the account document. A missing document is an empty account.
func (f *Firestore) Account(ctx context.Context, accountID string) (Account, error) {
	snap, err := f.userRef(accountID).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return Account{}, fmt.Errorf("firestore: get account %s: %w", accountID, err)
	}
	return decodeAccount(accountID, snap), nil
}

// RegisterAccount merges the department into the account document.
func (f *Firestore) RegisterAccount(ctx context.Context, accountID, dept string) error {
	_, err := f.userRef(accountID).Set(ctx, map[string]interface{}{deptField: dept}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("firestore: register account %s: %w", accountID, err)
	}
	return nil
}

// UpdateEntry runs fn in a Firestore transaction. Contended transactions are
// retried by the client, so fn may be called more than once.
func (f *Firestore) UpdateEntry(ctx context.Context, accountID, rollNumber string, fn EntryFunc) (Mutation, error) {
	ref := f.userRef(accountID)
	var out Mutation
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		acc := decodeAccount(accountID, snap)
		cur := Snapshot{AccountID: accountID, Dept: acc.Dept, Entries: len(acc.Entries)}
		cur.Entry, cur.Exists = acc.Entries[rollNumber]
		cur.Entry.RollNumber = rollNumber

		mut, err := fn(cur)
		if err != nil {
			return err
		}
		entry := map[string]interface{}{
			"count":       mut.Entry.Count,
			"fine":        mut.Entry.Fine,
			"status":      mut.Entry.Status,
			"createdAt":   mut.Entry.CreatedAt,
			"lastUpdated": firestore.ServerTimestamp,
		}
		if err := tx.Set(ref, map[string]interface{}{rollNumber: entry}, firestore.MergeAll); err != nil {
			return err
		}
		if mut.Archive != nil {
			archiveRef := f.client.Collection(ArchiveCollection).Doc(mut.Archive.ID)
			if err := tx.Set(archiveRef, *mut.Archive); err != nil {
				return err
			}
		}
		out = mut
		return nil
	})
	if err != nil {
		return Mutation{}, err
	}

	// server timestamps are not echoed back by a commit; report the local write time
	now := time.Now().UTC()
	out.Entry.RollNumber = rollNumber
	out.Entry.LastUpdated = now
	if out.Archive != nil {
		rec := *out.Archive
		rec.ArchivedAt = now
		out.Archive = &rec
	}
	return out, nil
}

// LateComerIDs lists every document id in the late-comers collection.
func (f *Firestore) LateComerIDs(ctx context.Context) ([]string, error) {
	q := f.client.Collection(LateComersCollection).OrderBy(firestore.DocumentID, firestore.Asc)
	return collectIDs(q.Documents(ctx))
}

// LateComerPage lists up to limit ids after the cursor id.
func (f *Firestore) LateComerPage(ctx context.Context, after string, limit int) ([]string, error) {
	q := f.client.Collection(LateComersCollection).OrderBy(firestore.DocumentID, firestore.Asc).Limit(limit)
	if after != "" {
		q = q.StartAfter(after)
	}
	return collectIDs(q.Documents(ctx))
}

func collectIDs(iter *firestore.DocumentIterator) ([]string, error) {
	defer iter.Stop()
	var ids []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: list %s: %w", LateComersCollection, err)
		}
		ids = append(ids, doc.Ref.ID)
	}
	return ids, nil
}

// ReplaceLateComers overwrites every listed document with an empty object in one batch.
func (f *Firestore) ReplaceLateComers(ctx context.Context, ids []string) error {
	if err := checkBatch(ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	col := f.client.Collection(LateComersCollection)
	batch := f.client.Batch()
	for _, id := range ids {
		batch.Set(col.Doc(id), map[string]interface{}{})
	}
	if _, err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("firestore: commit reset batch: %w", err)
	}
	return nil
}

// UpdateLateComers sets fields on every listed document in one batch.
func (f *Firestore) UpdateLateComers(ctx context.Context, ids []string, fields map[string]any) error {
	if err := checkBatch(ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	updates := make([]firestore.Update, 0, len(paths))
	for _, p := range paths {
		updates = append(updates, firestore.Update{Path: p, Value: fields[p]})
	}

	col := f.client.Collection(LateComersCollection)
	batch := f.client.Batch()
	for _, id := range ids {
		batch.Update(col.Doc(id), updates)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("firestore: commit clear batch: %w", err)
	}
	return nil
}

// ArchiveByPeriod queries archive records by period tag ordered by roll number.
func (f *Firestore) ArchiveByPeriod(ctx context.Context, period string) ([]ArchiveRecord, error) {
	iter := f.client.Collection(ArchiveCollection).
		Where("createdAt", "==", period).
		OrderBy("rollNumber", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var out []ArchiveRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: query archive: %w", err)
		}
		var rec ArchiveRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("firestore: decode archive %s: %w", doc.Ref.ID, err)
		}
		rec.ID = doc.Ref.ID
		out = append(out, rec)
	}
	return out, nil
}

// Healthy runs a one-document read against the users collection.
func (f *Firestore) Healthy(ctx context.Context) bool {
	iter := f.client.Collection(UsersCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	_, err := iter.Next()
	return err == nil || errors.Is(err, iterator.Done)
}

// Close releases the client.
func (f *Firestore) Close() error {
	return f.client.Close()
}

// decodeAccount turns a users document into an Account. Fields that are not
// ledger entries (dept, or anything without a count) are skipped.
func decodeAccount(accountID string, snap *firestore.DocumentSnapshot) Account {
	acc := Account{ID: accountID, Entries: map[string]LedgerEntry{}}
	if snap == nil || !snap.Exists() {
		return acc
	}
	for key, val := range snap.Data() {
		if key == deptField {
			acc.Dept, _ = val.(string)
			continue
		}
		fields, ok := val.(map[string]interface{})
		if !ok {
			continue
		}
		entry, ok := decodeEntry(key, fields)
		if ok {
			acc.Entries[key] = entry
		}
	}
	return acc
}

func decodeEntry(rollNumber string, fields map[string]interface{}) (LedgerEntry, bool) {
	if _, ok := fields["count"]; !ok {
		return LedgerEntry{}, false
	}
	e := LedgerEntry{RollNumber: rollNumber}
	e.Count = toInt(fields["count"])
	e.Fine = toInt(fields["fine"])
	e.Status, _ = fields["status"].(bool)
	e.CreatedAt, _ = fields["createdAt"].(string)
	e.LastUpdated, _ = fields["lastUpdated"].(time.Time)
	return e, true
}

// toInt accepts the numeric shapes Firestore decodes into interface{}.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
