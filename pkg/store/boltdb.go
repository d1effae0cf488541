package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/paddock/pkg/paddockerr"
	"github.com/cuemby/paddock/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMetadata          = []byte("metadata")
	bucketArtifact          = []byte("artifact")
	bucketProcess           = []byte("process")
	bucketStack             = []byte("stack")
	bucketRelStackProcess   = []byte("rel_stack_process")
	bucketRelStackInherited = []byte("rel_stack_inherited")
)

const (
	keyArtifactsUpdatedAt = "artifacts_updated_at"
	keyConfigUpdatedAt    = "config_updated_at"
	keyDefaultStack       = "default_stack"
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the project database under
// dataDir/paddock.db and ensures every relation bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "paddock.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, paddockerr.NewStateIOError(err, "failed to open %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketMetadata,
			bucketArtifact,
			bucketProcess,
			bucketStack,
			bucketRelStackProcess,
			bucketRelStackInherited,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, paddockerr.NewStateIOError(err, "failed to initialize buckets")
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Artifacts ---

func (s *BoltStore) SetArtifacts(artifacts []types.Artifact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifact)
		if err := clearBucket(b); err != nil {
			return err
		}
		for _, a := range artifacts {
			data, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(a.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetArtifacts() ([]types.Artifact, error) {
	var out []types.Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifact)
		return b.ForEach(func(_, v []byte) error {
			var a types.Artifact
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, paddockerr.NewStateIOError(err, "failed to read artifacts")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Metadata ---

func (s *BoltStore) getMetadataTime(key string) (time.Time, bool, error) {
	var t time.Time
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return err
		}
		t, ok = parsed, true
		return nil
	})
	if err != nil {
		return time.Time{}, false, paddockerr.NewStateIOError(err, "failed to read metadata %s", key)
	}
	return t, ok, nil
}

func (s *BoltStore) setMetadataTime(key string, t time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		return b.Put([]byte(key), []byte(t.Format(time.RFC3339Nano)))
	})
	if err != nil {
		return paddockerr.NewStateIOError(err, "failed to write metadata %s", key)
	}
	return nil
}

func (s *BoltStore) GetArtifactsRefreshedAt() (time.Time, bool, error) {
	return s.getMetadataTime(keyArtifactsUpdatedAt)
}

func (s *BoltStore) SetArtifactsRefreshedAt(t time.Time) error {
	return s.setMetadataTime(keyArtifactsUpdatedAt, t)
}

func (s *BoltStore) GetConfigRefreshedAt() (time.Time, bool, error) {
	return s.getMetadataTime(keyConfigUpdatedAt)
}

func (s *BoltStore) SetConfigRefreshedAt(t time.Time) error {
	return s.setMetadataTime(keyConfigUpdatedAt, t)
}

func (s *BoltStore) GetDefaultStack() (*string, error) {
	var name *string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		v := b.Get([]byte(keyDefaultStack))
		if v == nil {
			return nil
		}
		s := string(v)
		name = &s
		return nil
	})
	if err != nil {
		return nil, paddockerr.NewStateIOError(err, "failed to read default stack")
	}
	return name, nil
}

func (s *BoltStore) SetDefaultStack(name *string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if name != nil {
			sb := tx.Bucket(bucketStack)
			if sb.Get([]byte(*name)) == nil {
				return paddockerr.NewConflict("default stack %q does not exist", *name)
			}
		}
		b := tx.Bucket(bucketMetadata)
		if name == nil {
			return b.Delete([]byte(keyDefaultStack))
		}
		return b.Put([]byte(keyDefaultStack), []byte(*name))
	})
	return err
}

// --- Processes ---

type processRecord struct {
	Name      string            `json:"name"`
	Binary    string            `json:"binary"`
	State     string            `json:"state"`
	PID       *int              `json:"pid"`
	Args      []string          `json:"args"`
	BuildArgs []string          `json:"build_args"`
	Env       map[string]string `json:"env"`
}

func toRecord(p types.Process) processRecord {
	return processRecord{
		Name:      p.Name,
		Binary:    p.Binary,
		State:     string(p.State),
		PID:       p.PID,
		Args:      p.Args,
		BuildArgs: p.BuildArgs,
		Env:       p.Env,
	}
}

func fromRecord(r processRecord) types.Process {
	return types.Process{
		Name:      r.Name,
		Binary:    r.Binary,
		State:     types.ProcessState(r.State),
		PID:       r.PID,
		Args:      r.Args,
		BuildArgs: r.BuildArgs,
		Env:       r.Env,
	}
}

func (s *BoltStore) GetProcesses() ([]types.Process, error) {
	var out []types.Process
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcess)
		return b.ForEach(func(_, v []byte) error {
			var r processRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, fromRecord(r))
			return nil
		})
	})
	if err != nil {
		return nil, paddockerr.NewStateIOError(err, "failed to read processes")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *BoltStore) SetProcesses(processes []types.Process) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcess)
		if err := clearBucket(b); err != nil {
			return err
		}
		for _, p := range processes {
			data, err := json.Marshal(toRecord(p))
			if err != nil {
				return err
			}
			if err := b.Put([]byte(p.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return paddockerr.NewStateIOError(err, "failed to write processes")
	}
	return nil
}

func (s *BoltStore) SetProcessState(name string, state types.ProcessState) error {
	return s.updateProcess(name, func(r *processRecord) { r.State = string(state) })
}

func (s *BoltStore) SetProcessPID(name string, pid *int) error {
	return s.updateProcess(name, func(r *processRecord) { r.PID = pid })
}

func (s *BoltStore) updateProcess(name string, mutate func(*processRecord)) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcess)
		v := b.Get([]byte(name))
		if v == nil {
			return paddockerr.NewProcessNotFound([]string{name})
		}
		var r processRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		mutate(&r)
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return err
	}
	return nil
}

// --- Stacks ---

func (s *BoltStore) GetStack(name string) (types.Stack, error) {
	var stack types.Stack
	err := s.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket(bucketStack)
		if sb.Get([]byte(name)) == nil {
			return paddockerr.NewStackNotFound(name)
		}
		stack = types.Stack{
			Name:      name,
			Direct:    readProcessSet(tx.Bucket(bucketRelStackProcess), name),
			Inherited: readProcessSet(tx.Bucket(bucketRelStackInherited), name),
		}
		return nil
	})
	if err != nil {
		return types.Stack{}, err
	}
	return stack, nil
}

// GetStackNames returns every configured stack's name, for callers that
// only need the set's membership or size (e.g. metrics collection).
func (s *BoltStore) GetStackNames() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStack).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, paddockerr.NewStateIOError(err, "failed to list stacks")
	}
	return names, nil
}

func readProcessSet(b *bolt.Bucket, stackName string) map[string]struct{} {
	out := map[string]struct{}{}
	v := b.Get([]byte(stackName))
	if v == nil {
		return out
	}
	var names []string
	if err := json.Unmarshal(v, &names); err != nil {
		return out
	}
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// SetStacks reads existing process names before opening the write
// transaction, so validation never runs inside the lock that also holds
// the stack buckets. A default stack missing from the new set is cleared
// in the same write transaction.
func (s *BoltStore) SetStacks(stacks map[string]types.Stack) error {
	existing, err := s.GetProcesses()
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		known[p.Name] = struct{}{}
	}

	var missing []string
	missingSet := map[string]struct{}{}
	for _, st := range stacks {
		for n := range st.Direct {
			if _, ok := known[n]; !ok {
				if _, dup := missingSet[n]; !dup {
					missingSet[n] = struct{}{}
					missing = append(missing, n)
				}
			}
		}
		for n := range st.Inherited {
			if _, ok := known[n]; !ok {
				if _, dup := missingSet[n]; !dup {
					missingSet[n] = struct{}{}
					missing = append(missing, n)
				}
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return paddockerr.NewProcessNotFound(missing)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		stackBucket := tx.Bucket(bucketStack)
		directBucket := tx.Bucket(bucketRelStackProcess)
		inheritedBucket := tx.Bucket(bucketRelStackInherited)

		for _, b := range []*bolt.Bucket{stackBucket, directBucket, inheritedBucket} {
			if err := clearBucket(b); err != nil {
				return err
			}
		}

		for name, st := range stacks {
			if err := stackBucket.Put([]byte(name), []byte{1}); err != nil {
				return err
			}
			if err := putProcessSet(directBucket, name, st.Direct); err != nil {
				return err
			}
			if err := putProcessSet(inheritedBucket, name, st.Inherited); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMetadata)
		if def := meta.Get([]byte(keyDefaultStack)); def != nil {
			if _, ok := stacks[string(def)]; !ok {
				return meta.Delete([]byte(keyDefaultStack))
			}
		}
		return nil
	})
	if err != nil {
		return paddockerr.NewStateIOError(err, "failed to write stacks")
	}
	return nil
}

func putProcessSet(b *bolt.Bucket, stackName string, set map[string]struct{}) error {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	data, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return b.Put([]byte(stackName), data)
}

func clearBucket(b *bolt.Bucket) error {
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if err := b.Delete(k); err != nil {
			return err
		}
		c = b.Cursor()
	}
	return nil
}
