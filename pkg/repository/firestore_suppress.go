package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/domain/model/suppress"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/clock"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (r *Firestore) PutIgnore(ctx context.Context, entry *suppress.Ignore) error {
	if err := entry.UserName.Validate(); err != nil {
		return goerr.Wrap(err, "invalid ignore entry", goerr.T(errs.TagValidation))
	}

	if _, err := r.ignoreDoc(entry.UserName, entry.AlertTitle).Set(ctx, entry); err != nil {
		return goerr.Wrap(err, "failed to put ignore entry",
			goerr.T(errs.TagDatabase),
			goerr.V("user", entry.UserName),
			goerr.V("alert_title", entry.AlertTitle))
	}
	return nil
}

func (r *Firestore) ActiveIgnore(ctx context.Context, userName types.UserName, alertTitle string) (*suppress.Ignore, error) {
	doc, err := r.ignoreDoc(userName, alertTitle).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get ignore entry",
			goerr.T(errs.TagDatabase),
			goerr.V("user", userName))
	}

	var entry suppress.Ignore
	if err := doc.DataTo(&entry); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal ignore entry")
	}

	if entry.Expired(ctx) {
		// Lazy pruning; a failed delete is retried on the next lookup.
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return nil, goerr.Wrap(err, "failed to prune expired ignore entry", goerr.T(errs.TagDatabase))
		}
		return nil, nil
	}

	return &entry, nil
}

func (r *Firestore) ListIgnores(ctx context.Context) ([]*suppress.Ignore, error) {
	iter := r.db.Collection(collectionIgnores).
		Where("expires_at", ">", clock.Now(ctx)).
		Documents(ctx)
	defer iter.Stop()

	var entries []*suppress.Ignore
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate ignore entries", goerr.T(errs.TagDatabase))
		}

		var entry suppress.Ignore
		if err := doc.DataTo(&entry); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal ignore entry")
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}

func (r *Firestore) PutBlacklist(ctx context.Context, entry *suppress.BlacklistEntry) error {
	if err := entry.UserName.Validate(); err != nil {
		return goerr.Wrap(err, "invalid blacklist entry", goerr.T(errs.TagValidation))
	}

	doc := r.db.Collection(collectionBlacklist).Doc(entry.UserName.String())
	if _, err := doc.Set(ctx, entry); err != nil {
		return goerr.Wrap(err, "failed to put blacklist entry",
			goerr.T(errs.TagDatabase),
			goerr.V("user", entry.UserName))
	}
	return nil
}

func (r *Firestore) DeleteBlacklist(ctx context.Context, userName types.UserName) error {
	doc := r.db.Collection(collectionBlacklist).Doc(userName.String())
	if _, err := doc.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.New("blacklist entry not found",
				goerr.T(errs.TagNotFound),
				goerr.V("user", userName))
		}
		return goerr.Wrap(err, "failed to get blacklist entry", goerr.T(errs.TagDatabase))
	}

	if _, err := doc.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete blacklist entry",
			goerr.T(errs.TagDatabase),
			goerr.V("user", userName))
	}
	return nil
}

func (r *Firestore) IsBlacklisted(ctx context.Context, userName types.UserName) (bool, error) {
	_, err := r.db.Collection(collectionBlacklist).Doc(userName.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to get blacklist entry",
			goerr.T(errs.TagDatabase),
			goerr.V("user", userName))
	}
	return true, nil
}

func (r *Firestore) ListBlacklist(ctx context.Context) ([]*suppress.BlacklistEntry, error) {
	iter := r.db.Collection(collectionBlacklist).Documents(ctx)
	defer iter.Stop()

	var entries []*suppress.BlacklistEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate blacklist", goerr.T(errs.TagDatabase))
		}

		var entry suppress.BlacklistEntry
		if err := doc.DataTo(&entry); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal blacklist entry")
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}
