package driver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/soundprediction/chronograph/pkg/types"
)

const (
	badgerEpisodePrefix = "ep/"
	badgerNodePrefix    = "node/"
	badgerEdgePrefix    = "edge/"
	// badgerNodeEdgePrefix indexes edges by endpoint: nidx/<node>/<edge>.
	badgerNodeEdgePrefix = "nidx/"
)

// BadgerDriver stores the graph as JSON documents in an embedded Badger
// key-value store. Edge lookups by endpoint go through a secondary index.
type BadgerDriver struct {
	db *badger.DB
}

// NewBadgerDriver opens (or creates) a store in dir. An empty dir opens an
// in-memory store.
func NewBadgerDriver(dir string) (*BadgerDriver, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, storageErr("badger.Open", err)
	}
	return &BadgerDriver{db: db}, nil
}

func (b *BadgerDriver) Provider() types.GraphProvider { return types.GraphProviderBadger }

func (b *BadgerDriver) Close() error { return b.db.Close() }

func badgerGet[T any](txn *badger.Txn, key string) (*T, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	var v T
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
		return nil, err
	}
	return &v, nil
}

func badgerPut(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

func badgerScan[T any](txn *badger.Txn, prefix string, fn func(*T)) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
			return err
		}
		fn(&v)
	}
	return nil
}

func badgerKeys(txn *badger.Txn, prefix string) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	p := []byte(prefix)
	var keys []string
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys
}

func exists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *BadgerDriver) CreateEpisode(ctx context.Context, episode *types.EpisodicNode) error {
	if err := episode.Validate(); err != nil {
		return invalid("badger.CreateEpisode", err)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return badgerPut(txn, badgerEpisodePrefix+episode.ID, episode)
	})
	if err != nil {
		return storageErr("badger.CreateEpisode", err)
	}
	return nil
}

func (b *BadgerDriver) GetEpisode(ctx context.Context, id string) (*types.EpisodicNode, error) {
	var ep *types.EpisodicNode
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		ep, err = badgerGet[types.EpisodicNode](txn, badgerEpisodePrefix+id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound("badger.GetEpisode", "episode", id)
	}
	if err != nil {
		return nil, storageErr("badger.GetEpisode", err)
	}
	return ep, nil
}

func (b *BadgerDriver) ListEpisodes(ctx context.Context, q EpisodeQuery) ([]*types.EpisodicNode, error) {
	var out []*types.EpisodicNode
	err := b.db.View(func(txn *badger.Txn) error {
		return badgerScan(txn, badgerEpisodePrefix, func(ep *types.EpisodicNode) {
			if q.Matches(ep) {
				out = append(out, ep)
			}
		})
	})
	if err != nil {
		return nil, storageErr("badger.ListEpisodes", err)
	}
	sortEpisodes(out)
	return truncate(out, q.Limit), nil
}

func (b *BadgerDriver) DeleteEpisode(ctx context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerEpisodePrefix + id))
	})
	if err != nil {
		return storageErr("badger.DeleteEpisode", err)
	}
	return nil
}

func (b *BadgerDriver) CreateNode(ctx context.Context, node *types.EntityNode) error {
	if err := node.Validate(); err != nil {
		return invalid("badger.CreateNode", err)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return badgerPut(txn, badgerNodePrefix+node.ID, node)
	})
	if err != nil {
		return storageErr("badger.CreateNode", err)
	}
	return nil
}

func (b *BadgerDriver) UpdateNode(ctx context.Context, node *types.EntityNode) error {
	if err := node.Validate(); err != nil {
		return invalid("badger.UpdateNode", err)
	}
	var missing bool
	err := b.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, badgerNodePrefix+node.ID)
		if err != nil {
			return err
		}
		if !ok {
			missing = true
			return nil
		}
		return badgerPut(txn, badgerNodePrefix+node.ID, node)
	})
	if err != nil {
		return storageErr("badger.UpdateNode", err)
	}
	if missing {
		return notFound("badger.UpdateNode", "node", node.ID)
	}
	return nil
}

func (b *BadgerDriver) GetNode(ctx context.Context, id string) (*types.EntityNode, error) {
	var n *types.EntityNode
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = badgerGet[types.EntityNode](txn, badgerNodePrefix+id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound("badger.GetNode", "node", id)
	}
	if err != nil {
		return nil, storageErr("badger.GetNode", err)
	}
	return n, nil
}

func (b *BadgerDriver) ListNodes(ctx context.Context, q NodeQuery) ([]*types.EntityNode, error) {
	var out []*types.EntityNode
	err := b.db.View(func(txn *badger.Txn) error {
		if len(q.IDs) > 0 {
			for _, id := range q.IDs {
				n, err := badgerGet[types.EntityNode](txn, badgerNodePrefix+id)
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if q.Matches(n) {
					out = append(out, n)
				}
			}
			return nil
		}
		return badgerScan(txn, badgerNodePrefix, func(n *types.EntityNode) {
			if q.Matches(n) {
				out = append(out, n)
			}
		})
	})
	if err != nil {
		return nil, storageErr("badger.ListNodes", err)
	}
	sortNodes(out)
	return truncate(out, q.Limit), nil
}

// DeleteNode removes the node and every edge attached to it.
func (b *BadgerDriver) DeleteNode(ctx context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, key := range badgerKeys(txn, badgerNodeEdgePrefix+id+"/") {
			edgeID := key[len(badgerNodeEdgePrefix+id+"/"):]
			if err := b.deleteEdgeTxn(txn, edgeID); err != nil {
				return err
			}
		}
		return txn.Delete([]byte(badgerNodePrefix + id))
	})
	if err != nil {
		return storageErr("badger.DeleteNode", err)
	}
	return nil
}

func (b *BadgerDriver) putEdgeTxn(txn *badger.Txn, edge *types.EntityEdge) error {
	if err := badgerPut(txn, badgerEdgePrefix+edge.ID, edge); err != nil {
		return err
	}
	for _, nid := range []string{edge.SourceID, edge.TargetID} {
		if err := txn.Set([]byte(badgerNodeEdgePrefix+nid+"/"+edge.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

func (b *BadgerDriver) deleteEdgeTxn(txn *badger.Txn, id string) error {
	edge, err := badgerGet[types.EntityEdge](txn, badgerEdgePrefix+id)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, nid := range []string{edge.SourceID, edge.TargetID} {
		if err := txn.Delete([]byte(badgerNodeEdgePrefix + nid + "/" + id)); err != nil {
			return err
		}
	}
	return txn.Delete([]byte(badgerEdgePrefix + id))
}

func (b *BadgerDriver) CreateEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return invalid("badger.CreateEdge", err)
	}
	var dangling bool
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, nid := range []string{edge.SourceID, edge.TargetID} {
			ok, err := exists(txn, badgerNodePrefix+nid)
			if err != nil {
				return err
			}
			if !ok {
				dangling = true
				return nil
			}
		}
		return b.putEdgeTxn(txn, edge)
	})
	if err != nil {
		return storageErr("badger.CreateEdge", err)
	}
	if dangling {
		return missingEndpoint("badger.CreateEdge", edge)
	}
	return nil
}

func (b *BadgerDriver) UpdateEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return invalid("badger.UpdateEdge", err)
	}
	var missing bool
	err := b.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, badgerEdgePrefix+edge.ID)
		if err != nil {
			return err
		}
		if !ok {
			missing = true
			return nil
		}
		return b.putEdgeTxn(txn, edge)
	})
	if err != nil {
		return storageErr("badger.UpdateEdge", err)
	}
	if missing {
		return notFound("badger.UpdateEdge", "edge", edge.ID)
	}
	return nil
}

func (b *BadgerDriver) GetEdge(ctx context.Context, id string) (*types.EntityEdge, error) {
	var e *types.EntityEdge
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = badgerGet[types.EntityEdge](txn, badgerEdgePrefix+id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound("badger.GetEdge", "edge", id)
	}
	if err != nil {
		return nil, storageErr("badger.GetEdge", err)
	}
	return e, nil
}

func (b *BadgerDriver) ListEdges(ctx context.Context, q EdgeQuery) ([]*types.EntityEdge, error) {
	var out []*types.EntityEdge
	err := b.db.View(func(txn *badger.Txn) error {
		anchors := q.NodeIDs
		if q.SourceID != "" {
			anchors = []string{q.SourceID}
		}
		if len(anchors) == 0 {
			return badgerScan(txn, badgerEdgePrefix, func(e *types.EntityEdge) {
				if q.Matches(e) {
					out = append(out, e)
				}
			})
		}

		seen := make(map[string]bool)
		for _, nid := range anchors {
			prefix := badgerNodeEdgePrefix + nid + "/"
			for _, key := range badgerKeys(txn, prefix) {
				id := key[len(prefix):]
				if seen[id] {
					continue
				}
				seen[id] = true
				e, err := badgerGet[types.EntityEdge](txn, badgerEdgePrefix+id)
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if q.Matches(e) {
					out = append(out, e)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("badger.ListEdges", err)
	}
	sortEdges(out)
	return truncate(out, q.Limit), nil
}

func (b *BadgerDriver) DeleteEdge(ctx context.Context, id string) error {
	if err := b.db.Update(func(txn *badger.Txn) error { return b.deleteEdgeTxn(txn, id) }); err != nil {
		return storageErr("badger.DeleteEdge", err)
	}
	return nil
}

func (b *BadgerDriver) SearchNodes(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityNode, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	filter := NodeQuery{GroupIDs: options.groupIDs()}
	var out []*types.EntityNode
	err := b.db.View(func(txn *badger.Txn) error {
		return badgerScan(txn, badgerNodePrefix, func(n *types.EntityNode) {
			if filter.Matches(n) && nodeTextMatches(n, tokens) {
				out = append(out, n)
			}
		})
	})
	if err != nil {
		return nil, storageErr("badger.SearchNodes", err)
	}
	sortNodes(out)
	return truncate(out, options.limit()), nil
}

func (b *BadgerDriver) SearchEdges(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityEdge, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	filter := EdgeQuery{GroupIDs: options.groupIDs(), AsOf: options.asOf()}
	var out []*types.EntityEdge
	err := b.db.View(func(txn *badger.Txn) error {
		return badgerScan(txn, badgerEdgePrefix, func(e *types.EntityEdge) {
			if filter.Matches(e) && edgeTextMatches(e, tokens) {
				out = append(out, e)
			}
		})
	})
	if err != nil {
		return nil, storageErr("badger.SearchEdges", err)
	}
	sortEdges(out)
	return truncate(out, options.limit()), nil
}
