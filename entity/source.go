package entity

// SourceSnapshot is a repository version unpacked into a scratch directory.
type SourceSnapshot struct {
	Repository RepositoryRef `json:"repository"`
	Version    string        `json:"version"`
	Dir        string        `json:"dir"`
	Files      int           `json:"files"`
	Bytes      int64         `json:"bytes"`
}
