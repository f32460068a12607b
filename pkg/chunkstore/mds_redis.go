package chunkstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/wan13323312/cloud-drive/internal"
	"github.com/wan13323312/cloud-drive/pkg/base"
)

/*
Redis layout:

	Format:   setting -> JSON(Format)
	Chunk:    chunk:$hash -> {size, compressed_size, ref_count, storage_path}
	Mapping:  fmap:$filehash -> [gob(FileChunkMapping), ...] ordered by index
	Lock:     lock:write:fmap:$filehash -> owner id

Every ref_count mutation is a server-side Lua script, so concurrent callers
are serialized by Redis itself: create-or-increment treats losing the insert
race as an increment, and decrement reaps the row at zero in the same script.
*/
const (
	settingKey     = "setting"
	chunkKeyPrefix = "chunk:"
	fmapKeyPrefix  = "fmap:"
)

// createOrIncrChunkScript inserts the chunk row with ref_count=1, or bumps
// ref_count when another caller already created it. Returns the new count; 1
// means this call performed the insert.
var createOrIncrChunkScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return redis.call("HINCRBY", KEYS[1], "ref_count", 1)
end
redis.call("HSET", KEYS[1], "size", ARGV[1], "compressed_size", ARGV[2], "storage_path", ARGV[3], "ref_count", 1)
return 1
`)

// incrRefIfExistsScript bumps ref_count only when the row exists.
var incrRefIfExistsScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return 0
end
return redis.call("HINCRBY", KEYS[1], "ref_count", 1)
`)

// decrRefScript decrements ref_count, clamped at zero. At zero the row is
// deleted and its storage path returned for physical reaping.
var decrRefScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return {0, ""}
end
local c = redis.call("HINCRBY", KEYS[1], "ref_count", -1)
if c <= 0 then
    local path = redis.call("HGET", KEYS[1], "storage_path")
    redis.call("DEL", KEYS[1])
    return {0, path}
end
return {c, ""}
`)

// MDSRedis implements MDS on Redis.
type MDSRedis struct {
	Rdb    redis.UniversalClient
	format Format
}

var _ MDS = (*MDSRedis)(nil)

// NewRedisMDS returns a metadata service backed by Redis.
// NewRedisMDS("redis", "127.0.0.1:6379/1", 3)
func NewRedisMDS(driver, addr string, retries int) (MDS, error) {
	uri := driver + "://" + addr
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("url parse %s: %s", uri, err)
	}

	opt, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("redis parse %s: %s", uri, err)
	}
	if opt.Password == "" {
		opt.Password = os.Getenv("REDIS_PASSWORD")
	}
	if opt.Password == "" {
		opt.Password = os.Getenv("META_PASSWORD")
	}
	opt.MaxRetries = retries
	if opt.MaxRetries == 0 {
		opt.MaxRetries = -1 // Redis use -1 to disable retries
	}

	rdb := redis.NewClient(opt)
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &MDSRedis{Rdb: rdb}, nil
}

func (m *MDSRedis) Name() string {
	return "redis"
}

// Init pins the store format. The first initializer wins the SETNX; later
// ones must agree on chunk size and compression or pass force.
func (m *MDSRedis) Init(format *Format, force bool) error {
	ctx := context.Background()
	data, err := json.MarshalIndent(format, "", "")
	if err != nil {
		return fmt.Errorf("json: %s", err)
	}

	created, err := m.Rdb.SetNX(ctx, settingKey, data, 0).Result()
	if err != nil {
		return err
	}
	if created {
		m.format = *format
		logger.Infof("Initialized store format: name=%s uuid=%s chunksize=%d compression=%s",
			format.Name, format.UUID, format.ChunkSize, format.Compression)
		return nil
	}

	body, err := m.Rdb.Get(ctx, settingKey).Bytes()
	if err != nil {
		return err
	}
	var old Format
	if err = json.Unmarshal(body, &old); err != nil {
		return fmt.Errorf("json unmarshal setting: %s", err)
	}
	if old.ChunkSize != format.ChunkSize || old.Compression != format.Compression {
		if !force {
			logger.Errorf("Store was formatted with chunksize=%d compression=%s, configured chunksize=%d compression=%s",
				old.ChunkSize, old.Compression, format.ChunkSize, format.Compression)
			return ErrFormatMismatch
		}
		format.UUID = old.UUID
		if data, err = json.MarshalIndent(format, "", ""); err != nil {
			return fmt.Errorf("json: %s", err)
		}
		if err = m.Rdb.Set(ctx, settingKey, data, 0).Err(); err != nil {
			return err
		}
		logger.Warnf("Store format overwritten by force: chunksize %d -> %d", old.ChunkSize, format.ChunkSize)
		m.format = *format
		return nil
	}
	m.format = old
	return nil
}

func (m *MDSRedis) Shutdown() error {
	logger.Debugf("Shutting down redis MDS")
	return m.Rdb.Close()
}

func chunkKey(hash string) string {
	return chunkKeyPrefix + hash
}

func fmapKey(fileHash string) string {
	return fmapKeyPrefix + fileHash
}

func (m *MDSRedis) GetChunk(ctx context.Context, hash string) (*ChunkMeta, error) {
	vals, err := m.Rdb.HGetAll(ctx, chunkKey(hash)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		// not existed
		return nil, nil
	}
	return parseChunkRow(hash, vals)
}

func parseChunkRow(hash string, vals map[string]string) (*ChunkMeta, error) {
	size, err := strconv.ParseUint(vals["size"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse size for chunk %s: %w", hash, err)
	}
	csize, err := strconv.ParseUint(vals["compressed_size"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse compressed_size for chunk %s: %w", hash, err)
	}
	refs, err := strconv.ParseInt(vals["ref_count"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ref_count for chunk %s: %w", hash, err)
	}
	return &ChunkMeta{
		Hash:           hash,
		Size:           size,
		CompressedSize: csize,
		RefCount:       refs,
		StoragePath:    vals["storage_path"],
	}, nil
}

func (m *MDSRedis) CreateOrIncrementChunk(ctx context.Context, meta *ChunkMeta) (int64, error) {
	refs, err := createOrIncrChunkScript.Run(ctx, m.Rdb, []string{chunkKey(meta.Hash)},
		meta.Size, meta.CompressedSize, meta.StoragePath).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to create chunk %s: %w", meta.Hash, err)
	}
	if refs > 1 {
		logger.Tracef("chunk %s created by a concurrent caller, incremented to %d", meta.Hash, refs)
	}
	return refs, nil
}

func (m *MDSRedis) IncrementRefIfExists(ctx context.Context, hash string) (int64, error) {
	refs, err := incrRefIfExistsScript.Run(ctx, m.Rdb, []string{chunkKey(hash)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment ref for chunk %s: %w", hash, err)
	}
	return refs, nil
}

func (m *MDSRedis) DecrementRef(ctx context.Context, hash string) (int64, string, error) {
	res, err := decrRefScript.Run(ctx, m.Rdb, []string{chunkKey(hash)}).Slice()
	if err != nil {
		return 0, "", fmt.Errorf("failed to decrement ref for chunk %s: %w", hash, err)
	}
	if len(res) != 2 {
		return 0, "", fmt.Errorf("unexpected decrement reply for chunk %s: %v", hash, res)
	}
	refs, _ := res[0].(int64)
	path, _ := res[1].(string)
	return refs, path, nil
}

func (m *MDSRedis) ChunkExists(ctx context.Context, hash string) (bool, error) {
	n, err := m.Rdb.Exists(ctx, chunkKey(hash)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PutFileMappings replaces the whole batch in one MULTI/EXEC pipeline so a
// reader never observes a partial batch.
func (m *MDSRedis) PutFileMappings(ctx context.Context, fileHash string, mappings []FileChunkMapping) error {
	key := fmapKey(fileHash)
	vals := make([]interface{}, 0, len(mappings))
	for _, mp := range mappings {
		str, err := internal.SerializeToString(mp)
		if err != nil {
			return err
		}
		vals = append(vals, str)
	}

	_, err := m.Rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(vals) > 0 {
			pipe.RPush(ctx, key, vals...)
		}
		return nil
	})
	if err != nil {
		logger.Errorf("PutFileMappings: pipeline failed for file %s: %v", fileHash, err)
	}
	return err
}

func (m *MDSRedis) GetFileMappings(ctx context.Context, fileHash string) ([]FileChunkMapping, error) {
	entries, err := m.Rdb.LRange(ctx, fmapKey(fileHash), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return decodeMappings(fileHash, entries)
}

// DeleteFileMappings removes the batch and returns it. A WATCH transaction
// keeps the read and the delete consistent against concurrent writers.
func (m *MDSRedis) DeleteFileMappings(ctx context.Context, fileHash string) ([]FileChunkMapping, error) {
	key := fmapKey(fileHash)
	var mappings []FileChunkMapping

	err := m.Rdb.Watch(ctx, func(tx *redis.Tx) error {
		entries, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			mappings = nil
			return nil
		}
		mappings, err = decodeMappings(fileHash, entries)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	if err != nil {
		logger.Errorf("DeleteFileMappings: transaction failed for file %s: %v", fileHash, err)
		return nil, err
	}
	return mappings, nil
}

func decodeMappings(fileHash string, entries []string) ([]FileChunkMapping, error) {
	mappings := make([]FileChunkMapping, 0, len(entries))
	for i, entry := range entries {
		var mp FileChunkMapping
		if err := internal.DeserializeFromString(entry, &mp); err != nil {
			return nil, fmt.Errorf("failed to decode mapping %d of file %s: %w", i, fileHash, err)
		}
		mappings = append(mappings, mp)
	}
	return mappings, nil
}

func (m *MDSRedis) FileExists(ctx context.Context, fileHash string) (bool, error) {
	n, err := m.Rdb.Exists(ctx, fmapKey(fileHash)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// StorageStats scans the chunk and mapping key spaces. SCAN keeps the server
// responsive; counters are eventually consistent with concurrent writers,
// which is fine for an admin aggregate.
func (m *MDSRedis) StorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	iter := m.Rdb.Scan(ctx, 0, chunkKeyPrefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		vals, err := m.Rdb.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			continue // reaped between SCAN and HGETALL
		}
		meta, err := parseChunkRow(iter.Val()[len(chunkKeyPrefix):], vals)
		if err != nil {
			logger.Warnf("StorageStats: skipping malformed chunk row %s: %v", iter.Val(), err)
			continue
		}
		stats.ChunkCount++
		stats.TotalRefs += meta.RefCount
		stats.TotalSize += meta.Size
		stats.CompressedSize += meta.CompressedSize
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	var totalMappings int64
	iter = m.Rdb.Scan(ctx, 0, fmapKeyPrefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		n, err := m.Rdb.LLen(ctx, iter.Val()).Result()
		if err != nil {
			return nil, err
		}
		stats.FileCount++
		totalMappings += n
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	if stats.TotalSize > 0 {
		stats.CompressionRatio = float64(stats.CompressedSize) / float64(stats.TotalSize)
	}
	if stats.FileCount > 0 {
		stats.AvgChunksPerFile = float64(totalMappings) / float64(stats.FileCount)
	}
	if stats.ChunkCount > 0 {
		stats.DedupFactor = float64(stats.TotalRefs) / float64(stats.ChunkCount)
	}
	return stats, nil
}

// NewFileLock returns a distributed lock scoped to one file hash, held only
// for the duration of a mapping batch mutation.
func (m *MDSRedis) NewFileLock(fileHash string) FileLock {
	return base.NewRedisLock(m.Rdb, "fmap", fileHash)
}
