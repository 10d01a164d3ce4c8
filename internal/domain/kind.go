package domain

// TaskKind identifies the command family a task was created for.
type TaskKind string

const (
	KindLeech     TaskKind = "leech"
	KindVideoTool TaskKind = "vt"
	KindWebLink   TaskKind = "jl"
	KindTorrent   TaskKind = "qbl"
	KindURLUpload TaskKind = "upload"
	KindTwitter   TaskKind = "twitter"
	KindZip       TaskKind = "zip"
	KindUnzip     TaskKind = "unzip"
	KindMediaInfo TaskKind = "mediainfo"
)

// WriteHeavy reports whether the kind is limited to one active task per
// non-admin user.
func (k TaskKind) WriteHeavy() bool {
	switch k {
	case KindURLUpload, KindTwitter, KindTorrent:
		return true
	}
	return false
}
