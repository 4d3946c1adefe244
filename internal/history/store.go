package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"airdrop/pkg/models"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/history.db"

	// 存储桶名称
	ReportsBucket = "reports"
	IndexBucket   = "report_index"
	StatsBucket   = "stats"

	// 统计键
	RunsKey      = "runs"
	SucceededKey = "succeeded"
	FailedKey    = "failed"
)

// Summary 报告概要，列表接口不返回逐笔结果
type Summary struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	TokenSymbol string    `json:"token_symbol"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
}

// Totals 所有归档运行的累计数
type Totals struct {
	Runs      uint64 `json:"runs"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

// Store 运行报告归档，只追加，不会回填到当前接收方列表
type Store struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.RWMutex
}

// NewStore 打开或创建归档数据库
func NewStore(dbPath string, logger *logrus.Logger) (*Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开历史数据库失败: %w", err)
	}

	s := &Store{db: db, logger: logger, dbPath: dbPath}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("运行历史已打开，数据库路径: %s", dbPath)
	return s, nil
}

func (s *Store) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{ReportsBucket, IndexBucket, StatsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// reportKey 开始时间(纳秒,大端)+ID，游标顺序即时间顺序
func reportKey(r *models.RunReport) []byte {
	key := make([]byte, 8, 8+len(r.ID))
	binary.BigEndian.PutUint64(key, uint64(r.StartedAt.UnixNano()))
	return append(key, r.ID...)
}

// Save 归档一份报告，同一ID重复保存会覆盖且不重复计数
func (s *Store) Save(report *models.RunReport) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("报告缺少ID")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		reports := tx.Bucket([]byte(ReportsBucket))
		index := tx.Bucket([]byte(IndexBucket))
		stats := tx.Bucket([]byte(StatsBucket))

		key := reportKey(report)
		existing := index.Get([]byte(report.ID))
		if existing != nil {
			if err := reports.Delete(existing); err != nil {
				return err
			}
		}
		if err := reports.Put(key, data); err != nil {
			return fmt.Errorf("保存报告失败: %w", err)
		}
		if err := index.Put([]byte(report.ID), key); err != nil {
			return fmt.Errorf("保存索引失败: %w", err)
		}

		if existing == nil {
			if err := incr(stats, RunsKey, 1); err != nil {
				return err
			}
			if err := incr(stats, SucceededKey, uint64(report.Succeeded)); err != nil {
				return err
			}
			if err := incr(stats, FailedKey, uint64(report.Failed)); err != nil {
				return err
			}
		}
		return nil
	})
}

func incr(bucket *bolt.Bucket, key string, delta uint64) error {
	var v uint64
	if data := bucket.Get([]byte(key)); data != nil {
		v = binary.BigEndian.Uint64(data)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v+delta)
	return bucket.Put([]byte(key), buf)
}

// Get 按ID读取完整报告，不存在时返回nil
func (s *Store) Get(id string) (*models.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var report *models.RunReport
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket([]byte(IndexBucket)).Get([]byte(id))
		if key == nil {
			return nil
		}
		data := tx.Bucket([]byte(ReportsBucket)).Get(key)
		if data == nil {
			return nil
		}
		report = &models.RunReport{}
		return json.Unmarshal(data, report)
	})
	if err != nil {
		return nil, fmt.Errorf("读取报告失败: %w", err)
	}
	return report, nil
}

// List 最新的报告在前，limit<=0表示全部
func (s *Store) List(limit int) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Summary
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(ReportsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var r models.RunReport
			if err := json.Unmarshal(v, &r); err != nil {
				s.logger.Warnf("跳过无法解析的报告 %x: %v", k, err)
				continue
			}
			out = append(out, Summary{
				ID:          r.ID,
				StartedAt:   r.StartedAt,
				FinishedAt:  r.FinishedAt,
				TokenSymbol: r.TokenSymbol,
				Total:       r.Total,
				Succeeded:   r.Succeeded,
				Failed:      r.Failed,
				Error:       r.Error,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("读取报告列表失败: %w", err)
	}
	return out, nil
}

// Totals 累计统计
func (s *Store) Totals() (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Totals
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(StatsBucket))
		read := func(key string) uint64 {
			if data := b.Get([]byte(key)); data != nil {
				return binary.BigEndian.Uint64(data)
			}
			return 0
		}
		t.Runs = read(RunsKey)
		t.Succeeded = read(SucceededKey)
		t.Failed = read(FailedKey)
		return nil
	})
	return t, err
}

// GetDBPath 获取数据库路径
func (s *Store) GetDBPath() string {
	return s.dbPath
}

// Close 关闭数据库
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info("关闭运行历史")
		return s.db.Close()
	}
	return nil
}
