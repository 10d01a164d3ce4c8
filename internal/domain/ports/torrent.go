package ports

import "context"

// TorrentStatus mirrors the daemon's per-torrent info fields.
type TorrentStatus struct {
	Hash          string
	Name          string
	State         string
	Progress      float64 // 0..1
	TotalSize     int64
	Downloaded    int64
	DownloadSpeed int64
	ETASeconds    int64
	ContentPath   string
}

// TorrentClient is the remote-control contract of the torrent daemon.
type TorrentClient interface {
	AddMagnet(ctx context.Context, magnet, savePath string) error
	AddFile(ctx context.Context, torrentPath, savePath string) error
	// Recent returns up to limit torrents, newest first.
	Recent(ctx context.Context, limit int) ([]TorrentStatus, error)
	Info(ctx context.Context, hash string) (TorrentStatus, error)
	Delete(ctx context.Context, hash string, deleteFiles bool) error
}
