package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/kurame123/Yuki-bot/pkg/domain/interfaces"
	"github.com/m-mizutani/goerr/v2"
)

// Firestore is the persistent repository backend. Memory embeddings are
// stored as firestore.Vector32 so FindNearest vector search works; affection
// writes and graph mutations run in transactions so a crash never leaves a
// mismatched score/level pair or a dangling relation.
type Firestore struct {
	client    *firestore.Client
	memories  *memoryRepository
	graph     *graphRepository
	affection *affectionRepository
}

var _ interfaces.Repository = &Firestore{}

func New(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	var client *firestore.Client
	var err error
	if databaseID != "" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID), goerr.V("databaseID", databaseID))
	}

	return &Firestore{
		client:    client,
		memories:  newMemoryRepository(client),
		graph:     newGraphRepository(client),
		affection: newAffectionRepository(client),
	}, nil
}

func (f *Firestore) Memory() interfaces.MemoryRepository {
	return f.memories
}

func (f *Firestore) Graph() interfaces.GraphRepository {
	return f.graph
}

func (f *Firestore) Affection() interfaces.AffectionRepository {
	return f.affection
}

func (f *Firestore) Close() error {
	return f.client.Close()
}
