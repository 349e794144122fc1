package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"btbridge/internal/domain"
)

// TorrentConfig carries the settings for the embedded torrent engine.
// Rate caps are in bytes per second; zero means unlimited.
type TorrentConfig struct {
	DataDir         string
	TrackerList     []string
	NoUpload        bool
	MaxDownloadRate int64
	MaxUploadRate   int64
	Logger          *logrus.Logger
}

// TorrentDownloader implements Downloader on an embedded anacrolix torrent
// client. The handle is the torrent infohash in hex, which survives process
// restarts: Status re-attaches a transfer by infohash when the client no
// longer knows it.
type TorrentDownloader struct {
	cfg    TorrentConfig
	client *torrent.Client
	logger *logrus.Logger

	mu      sync.Mutex
	started map[metainfo.Hash]struct{}
}

func NewTorrentDownloader(cfg TorrentConfig) (*TorrentDownloader, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if len(cfg.TrackerList) == 0 {
		cfg.TrackerList = defaultTrackers()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download root: %w", err)
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = cfg.DataDir
	clientConfig.NoUpload = cfg.NoUpload
	clientConfig.Seed = false
	if lim := rateLimiter(cfg.MaxDownloadRate); lim != nil {
		clientConfig.DownloadRateLimiter = lim
	}
	if lim := rateLimiter(cfg.MaxUploadRate); lim != nil {
		clientConfig.UploadRateLimiter = lim
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	cfg.Logger.Infof("torrent engine started, data dir: %s", cfg.DataDir)
	return &TorrentDownloader{
		cfg:     cfg,
		client:  client,
		logger:  cfg.Logger,
		started: make(map[metainfo.Hash]struct{}),
	}, nil
}

// ValidateSource checks that a source is a btih magnet URI or a readable
// .torrent file without touching the engine.
func ValidateSource(source string) error {
	if strings.HasPrefix(source, "magnet:") {
		m, err := metainfo.ParseMagnetUri(source)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
		}
		if m.InfoHash == (metainfo.Hash{}) {
			return fmt.Errorf("%w: magnet has no btih hash", domain.ErrInvalidSource)
		}
		return nil
	}
	if strings.HasSuffix(source, ".torrent") {
		if _, err := os.Stat(source); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
		}
		return nil
	}
	return fmt.Errorf("%w: not a magnet URI or .torrent file", domain.ErrInvalidSource)
}

func (d *TorrentDownloader) Submit(ctx context.Context, source string) (string, error) {
	if err := ValidateSource(source); err != nil {
		return "", err
	}

	var (
		t   *torrent.Torrent
		err error
	)
	if strings.HasPrefix(source, "magnet:") {
		t, err = d.client.AddMagnet(source)
	} else {
		t, err = d.client.AddTorrentFromFile(source)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
	}

	d.addTrackers(t)
	handle := t.InfoHash().HexString()
	d.logger.WithField("handle", handle).Info("transfer submitted")
	return handle, nil
}

func (d *TorrentDownloader) Status(ctx context.Context, handle string) (DownloadStatus, error) {
	t, err := d.attach(handle)
	if err != nil {
		return DownloadStatus{}, err
	}

	info := t.Info()
	if info == nil {
		// metadata not resolved yet; nothing to report but liveness
		stats := t.Stats()
		return DownloadStatus{
			State:            DownloadStateQueued,
			TotalPeers:       stats.TotalPeers,
			ActivePeers:      stats.ActivePeers,
			ConnectedSeeders: stats.ConnectedSeeders,
		}, nil
	}

	d.ensureDownloading(t)

	total := info.TotalLength()
	completed := t.BytesCompleted()
	progress := 0.0
	if total > 0 {
		progress = float64(completed) / float64(total) * 100
	}

	files := make([]FileInfo, len(t.Files()))
	for i, f := range t.Files() {
		files[i] = FileInfo{Path: f.DisplayPath(), Size: f.Length()}
	}

	stats := t.Stats()
	status := DownloadStatus{
		State:            DownloadStateActive,
		Name:             info.BestName(),
		Progress:         progress,
		BytesCompleted:   completed,
		TotalBytes:       total,
		Files:            files,
		TotalPeers:       stats.TotalPeers,
		ActivePeers:      stats.ActivePeers,
		ConnectedSeeders: stats.ConnectedSeeders,
	}
	if t.BytesMissing() == 0 {
		status.State = DownloadStateComplete
		status.Progress = 100
		status.LocalPath = filepath.Join(d.cfg.DataDir, info.BestName())
	}
	return status, nil
}

func (d *TorrentDownloader) Cancel(ctx context.Context, handle string, purgeFiles bool) error {
	hash, err := parseHandle(handle)
	if err != nil {
		return err
	}
	t, ok := d.client.Torrent(hash)
	if !ok {
		return nil
	}

	var localPath string
	if info := t.Info(); info != nil {
		localPath = filepath.Join(d.cfg.DataDir, info.BestName())
	}
	t.Drop()

	d.mu.Lock()
	delete(d.started, hash)
	d.mu.Unlock()

	if purgeFiles && localPath != "" {
		if err := os.RemoveAll(localPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("purge local data: %w", err)
		}
	}
	return nil
}

func (d *TorrentDownloader) Close() error {
	errs := d.client.Close()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	d.logger.Info("torrent engine stopped")
	return nil
}

// attach resolves a handle to a live torrent, re-adding it by infohash if
// the client lost it across a restart. The original source is never needed
// again once a handle exists.
func (d *TorrentDownloader) attach(handle string) (*torrent.Torrent, error) {
	hash, err := parseHandle(handle)
	if err != nil {
		return nil, err
	}
	if t, ok := d.client.Torrent(hash); ok {
		return t, nil
	}
	t, fresh := d.client.AddTorrentInfoHash(hash)
	if fresh {
		d.addTrackers(t)
		d.logger.WithField("handle", handle).Info("re-attached transfer by infohash")
	}
	return t, nil
}

// ensureDownloading starts piece selection exactly once per torrent.
func (d *TorrentDownloader) ensureDownloading(t *torrent.Torrent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hash := t.InfoHash()
	if _, ok := d.started[hash]; ok {
		return
	}
	t.DownloadAll()
	d.started[hash] = struct{}{}
}

func (d *TorrentDownloader) addTrackers(t *torrent.Torrent) {
	for _, tracker := range d.cfg.TrackerList {
		t.AddTrackers([][]string{{tracker}})
	}
}

func parseHandle(handle string) (metainfo.Hash, error) {
	var hash metainfo.Hash
	if err := hash.FromHexString(handle); err != nil {
		return hash, fmt.Errorf("parse download handle %q: %w", handle, err)
	}
	return hash, nil
}

// rateLimiter converts a bytes-per-second cap into a limiter for the
// torrent client. The burst must cover a full chunk read, so small caps
// still make progress.
func rateLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < 256<<10 {
		burst = 256 << 10
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"http://tracker.openbittorrent.com:80/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://tracker.moeking.me:6969/announce",
	}
}

var _ Downloader = (*TorrentDownloader)(nil)
