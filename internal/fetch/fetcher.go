package fetch

import (
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lfs-hub/lfs-hub/internal/cache"
	"github.com/lfs-hub/lfs-hub/internal/logging"
)

// Options 控制下载助手的调用方式。
type Options struct {
	// Timeout 限制单次下载的最长时间，默认 20 分钟。
	Timeout time.Duration
	// Helper 是下载助手命令名，默认 curl。
	Helper string
	// OutboundProxy 非空时通过 -x 传给下载助手。
	OutboundProxy string
}

// Fetcher 负责触发后台下载：每个未缓存的键至多一个在途任务，
// 任务结束（无论成败）后释放键。失败只记日志，不影响任何客户端。
type Fetcher struct {
	store    cache.Store
	logger   *logrus.Logger
	inflight *Inflight
	timeout  time.Duration

	// newCommand 构造下载助手进程，测试中可替换为假命令。
	newCommand func(ctx context.Context, rawURL string) *exec.Cmd
}

// NewFetcher 构造后台下载器，inflight 与代理层的 tee 写入路径共享。
func NewFetcher(store cache.Store, logger *logrus.Logger, inflight *Inflight, opts Options) *Fetcher {
	helper := opts.Helper
	if helper == "" {
		helper = "curl"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	proxy := opts.OutboundProxy

	return &Fetcher{
		store:    store,
		logger:   logger,
		inflight: inflight,
		timeout:  timeout,
		newCommand: func(ctx context.Context, rawURL string) *exec.Cmd {
			args := []string{"-L", "-s", "-f"}
			if proxy != "" {
				args = append(args, "-x", proxy)
			}
			args = append(args, rawURL)
			return exec.CommandContext(ctx, helper, args...)
		},
	}
}

// TryStart 在键未缓存且不在途时启动后台下载并立即返回 true；
// 否则不做任何事返回 false。调用方随后总是直接回源透传本次请求。
func (f *Fetcher) TryStart(loc cache.Locator, rawURL string) bool {
	if _, err := f.store.Stat(loc); err == nil {
		return false
	}

	key := loc.Key()
	if !f.inflight.TryAcquire(key) {
		return false
	}

	go f.run(loc, key, rawURL)
	return true
}

// Active 返回在途下载数。
func (f *Fetcher) Active() int {
	return f.inflight.Len()
}

func (f *Fetcher) run(loc cache.Locator, key, rawURL string) {
	defer f.inflight.Release(key)

	started := time.Now()
	fields := logging.FetchFields(key, rawURL)
	f.logger.WithFields(fields).Info("fetch_start")

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	cmd := f.newCommand(ctx, rawURL)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		f.logger.WithFields(fields).WithError(err).Warn("fetch_helper_pipe_failed")
		return
	}
	if err := cmd.Start(); err != nil {
		f.logger.WithFields(fields).WithError(err).Warn("fetch_helper_start_failed")
		return
	}

	writer, err := f.store.Create(loc)
	if err != nil {
		cancel()
		_ = cmd.Wait()
		f.logger.WithFields(fields).WithError(err).Warn("fetch_store_failed")
		return
	}

	_, copyErr := io.Copy(writer, stdout)
	if copyErr != nil {
		// Stop the helper so Wait cannot block on a full pipe.
		cancel()
	}
	waitErr := cmd.Wait()

	fields["elapsed_ms"] = time.Since(started).Milliseconds()

	// Commit only after the helper exited cleanly; a non-zero exit or a
	// truncated stream must leave the final path absent.
	if copyErr != nil || waitErr != nil {
		writer.Abort()
		if copyErr != nil {
			f.logger.WithFields(fields).WithError(copyErr).Warn("fetch_write_failed")
		} else {
			f.logger.WithFields(fields).WithError(waitErr).Warn("fetch_helper_failed")
		}
		return
	}

	entry, err := writer.Commit(nil)
	if err != nil {
		f.logger.WithFields(fields).WithError(err).Warn("fetch_commit_failed")
		return
	}
	fields["size_bytes"] = entry.SizeBytes
	f.logger.WithFields(fields).Info("fetch_done")
}
