// Package torrents builds the per-tracker .torrent files for a prepared
// release. Every torrent is private and may carry a tracker source flag, so
// the same payload produces a distinct infohash per tracker.
package torrents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"spool/internal/services"
)

// Piece length bounds. Tables below stay inside these regardless of strategy.
const (
	MinPieceLength = 256 << 10
	MaxPieceLength = 16 << 20
)

// Strategy selects the piece-length table for a tracker.
type Strategy string

const (
	// StrategyStandard is the conservative default with small-file tiers.
	StrategyStandard Strategy = "standard"
	// StrategyLarge favors fewer, larger pieces for trackers that prefer
	// compact metainfo.
	StrategyLarge Strategy = "large"
)

// ParseStrategy maps a schema string onto a Strategy. Empty selects standard.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(value))) {
	case "", StrategyStandard:
		return StrategyStandard, nil
	case StrategyLarge:
		return StrategyLarge, nil
	}
	return "", fmt.Errorf("torrents: unknown piece size strategy %q", value)
}

type pieceTier struct {
	below int64
	piece int64
}

var standardTiers = []pieceTier{
	{256 << 20, 256 << 10},
	{512 << 20, 512 << 10},
	{1 << 30, 1 << 20},
	{2 << 30, 2 << 20},
	{4 << 30, 4 << 20},
	{8 << 30, 8 << 20},
}

var largeTiers = []pieceTier{
	{1 << 30, 1 << 20},
	{2 << 30, 2 << 20},
	{3 << 30, 4 << 20},
	{8 << 30, 8 << 20},
}

// PieceLength returns the piece length for a payload size under the given
// strategy. Results are powers of two between MinPieceLength and
// MaxPieceLength.
func PieceLength(fileSize int64, strategy Strategy) int64 {
	tiers := standardTiers
	if strategy == StrategyLarge {
		tiers = largeTiers
	}
	for _, tier := range tiers {
		if fileSize < tier.below {
			return tier.piece
		}
	}
	return MaxPieceLength
}

// FileName derives the .torrent filename for a release and tracker:
// {release_name}_{TrackerName}.torrent with spaces removed from the name.
func FileName(releaseName, trackerName string) string {
	suffix := strings.ReplaceAll(strings.TrimSpace(trackerName), " ", "")
	return releaseName + "_" + suffix + ".torrent"
}

// Spec describes one torrent to build.
type Spec struct {
	PayloadPath string
	OutputDir   string
	ReleaseName string
	TrackerName string
	Announce    string
	Source      string
	Strategy    Strategy
	Comment     string
}

// Result reports a built (or reused) torrent file.
type Result struct {
	Path        string
	InfoHash    string
	PieceLength int64
	Reused      bool
}

// Build hashes the payload and writes the metainfo file for one tracker.
// When the destination already exists its bytes are left untouched and the
// stored infohash is returned, so resumed runs never alter announce state.
func Build(ctx context.Context, spec Spec) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, services.Wrap(services.ErrCancelled, "torrents", "build", "", err)
	}
	if strings.TrimSpace(spec.Announce) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "torrents", "build", "announce URL required", nil)
	}
	if strings.TrimSpace(spec.ReleaseName) == "" {
		return nil, services.Wrap(services.ErrValidation, "torrents", "build", "release name required", nil)
	}

	payload, err := os.Stat(spec.PayloadPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "torrents", "build", fmt.Sprintf("payload %s", spec.PayloadPath), err)
	}
	if payload.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "torrents", "build", "payload must be a file", nil)
	}

	dest := filepath.Join(spec.OutputDir, FileName(spec.ReleaseName, spec.TrackerName))
	if existing, err := os.Stat(dest); err == nil && existing.Size() > 0 {
		hash, pieceLen, err := ReadInfo(dest)
		if err != nil {
			return nil, err
		}
		return &Result{Path: dest, InfoHash: hash, PieceLength: pieceLen, Reused: true}, nil
	}

	pieceLen := PieceLength(payload.Size(), spec.Strategy)
	info := metainfo.Info{PieceLength: pieceLen}
	if err := info.BuildFromFilePath(spec.PayloadPath); err != nil {
		return nil, services.Wrap(services.ErrInternalInvariant, "torrents", "hash", "", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, services.Wrap(services.ErrCancelled, "torrents", "build", "", err)
	}

	private := true
	info.Private = &private
	if source := strings.TrimSpace(spec.Source); source != "" {
		info.Source = source
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, services.Wrap(services.ErrInternalInvariant, "torrents", "encode", "", err)
	}
	mi := metainfo.MetaInfo{
		InfoBytes:    infoBytes,
		Announce:     spec.Announce,
		AnnounceList: metainfo.AnnounceList{{spec.Announce}},
		CreationDate: time.Now().Unix(),
		Comment:      spec.Comment,
		CreatedBy:    "spool",
	}

	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrInternalInvariant, "torrents", "write", "", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return nil, services.Wrap(services.ErrInternalInvariant, "torrents", "write", "", err)
	}
	if err := mi.Write(out); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return nil, services.Wrap(services.ErrInternalInvariant, "torrents", "write", "", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return nil, services.Wrap(services.ErrInternalInvariant, "torrents", "write", "", err)
	}

	return &Result{
		Path:        dest,
		InfoHash:    mi.HashInfoBytes().HexString(),
		PieceLength: pieceLen,
	}, nil
}

// ReadInfo loads an existing .torrent and reports its infohash and piece
// length. The Upload stage uses the hash to inject into qBittorrent.
func ReadInfo(path string) (string, int64, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return "", 0, services.Wrap(services.ErrValidation, "torrents", "read", fmt.Sprintf("load %s", path), err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return "", 0, services.Wrap(services.ErrValidation, "torrents", "read", fmt.Sprintf("decode %s", path), err)
	}
	return mi.HashInfoBytes().HexString(), info.PieceLength, nil
}
