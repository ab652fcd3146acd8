package root

import (
	"context"

	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"go.uber.org/zap"
)

// Admin dispatches database/collection CRUD. Thin pass-through storage: every
// write is one directory mutation, so admin entities are watched like
// everything else.
func (r *Root) Admin(ctx context.Context, req *protocol.AdminRequest) (*protocol.AdminResponse, error) {
	switch {
	case req.CreateDatabase != nil:
		return r.createDatabase(ctx, req.CreateDatabase)
	case req.DeleteDatabase != nil:
		return r.deleteDatabase(ctx, req.DeleteDatabase)
	case req.GetDatabase != nil:
		db, ok := r.dir.GetDatabase(req.GetDatabase.Name)
		if !ok {
			return nil, errs.ErrDatabaseNotFoundf(req.GetDatabase.Name)
		}
		return &protocol.AdminResponse{Database: &db}, nil
	case req.ListDatabases != nil:
		return &protocol.AdminResponse{Databases: r.dir.ListDatabases()}, nil
	case req.CreateCollection != nil:
		return r.createCollection(ctx, req.CreateCollection)
	case req.DeleteCollection != nil:
		return r.deleteCollection(ctx, req.DeleteCollection)
	case req.GetCollection != nil:
		db, ok := r.dir.GetDatabase(req.GetCollection.Database)
		if !ok {
			return nil, errs.ErrDatabaseNotFoundf(req.GetCollection.Database)
		}
		coll, ok := r.dir.GetCollection(db.ID, req.GetCollection.Name)
		if !ok {
			return nil, errs.ErrCollectionNotFoundf(req.GetCollection.Database, req.GetCollection.Name)
		}
		return &protocol.AdminResponse{Collection: &coll}, nil
	case req.ListCollections != nil:
		db, ok := r.dir.GetDatabase(req.ListCollections.Database)
		if !ok {
			return nil, errs.ErrDatabaseNotFoundf(req.ListCollections.Database)
		}
		return &protocol.AdminResponse{Collections: r.dir.ListCollections(db.ID)}, nil
	default:
		return nil, errs.ErrMissingField("admin request variant")
	}
}

func (r *Root) createDatabase(ctx context.Context, req *protocol.CreateDatabaseRequest) (*protocol.AdminResponse, error) {
	if req.Name == "" {
		return nil, errs.ErrMissingField("name")
	}
	if _, ok := r.dir.GetDatabase(req.Name); ok {
		return nil, errs.ErrDatabaseExistsf(req.Name)
	}
	id, err := r.seq.AllocRange(SeqDatabase, 1)
	if err != nil {
		return nil, err
	}
	desc := protocol.DatabaseDesc{ID: id, Name: req.Name}
	if _, err := r.proposer.Propose(ctx, &protocol.Mutation{
		PutDatabase: &protocol.PutDatabaseMutation{Desc: desc},
	}); err != nil {
		return nil, err
	}
	r.logger.Info("database created", zap.Uint64("id", id), zap.String("name", req.Name))
	return &protocol.AdminResponse{Database: &desc}, nil
}

func (r *Root) deleteDatabase(ctx context.Context, req *protocol.DeleteDatabaseRequest) (*protocol.AdminResponse, error) {
	db, ok := r.dir.GetDatabase(req.Name)
	if !ok {
		return nil, errs.ErrDatabaseNotFoundf(req.Name)
	}
	if _, err := r.proposer.Propose(ctx, &protocol.Mutation{
		DeleteDatabase: &protocol.DeleteDatabaseMutation{ID: db.ID},
	}); err != nil {
		return nil, err
	}
	r.logger.Info("database deleted", zap.Uint64("id", db.ID), zap.String("name", req.Name))
	return &protocol.AdminResponse{Deleted: true}, nil
}

func (r *Root) createCollection(ctx context.Context, req *protocol.CreateCollectionRequest) (*protocol.AdminResponse, error) {
	if req.Name == "" {
		return nil, errs.ErrMissingField("name")
	}
	db, ok := r.dir.GetDatabase(req.Database)
	if !ok {
		return nil, errs.ErrDatabaseNotFoundf(req.Database)
	}
	if _, ok := r.dir.GetCollection(db.ID, req.Name); ok {
		return nil, errs.ErrCollectionExistsf(req.Database, req.Name)
	}
	id, err := r.seq.AllocRange(SeqCollection, 1)
	if err != nil {
		return nil, err
	}
	desc := protocol.CollectionDesc{ID: id, Database: db.ID, Name: req.Name}
	if _, err := r.proposer.Propose(ctx, &protocol.Mutation{
		PutCollection: &protocol.PutCollectionMutation{Desc: desc},
	}); err != nil {
		return nil, err
	}
	r.logger.Info("collection created",
		zap.Uint64("id", id), zap.String("database", req.Database), zap.String("name", req.Name))
	return &protocol.AdminResponse{Collection: &desc}, nil
}

func (r *Root) deleteCollection(ctx context.Context, req *protocol.DeleteCollectionRequest) (*protocol.AdminResponse, error) {
	db, ok := r.dir.GetDatabase(req.Database)
	if !ok {
		return nil, errs.ErrDatabaseNotFoundf(req.Database)
	}
	coll, ok := r.dir.GetCollection(db.ID, req.Name)
	if !ok {
		return nil, errs.ErrCollectionNotFoundf(req.Database, req.Name)
	}
	if _, err := r.proposer.Propose(ctx, &protocol.Mutation{
		DeleteCollection: &protocol.DeleteCollectionMutation{ID: coll.ID},
	}); err != nil {
		return nil, err
	}
	return &protocol.AdminResponse{Deleted: true}, nil
}
