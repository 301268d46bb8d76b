package hosting

// Repository is the subset of the repository object the sync engine needs.
type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

// Branch is a branch with its head commit.
type Branch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// Ref is a git reference.
type Ref struct {
	Ref    string `json:"ref"`
	Object struct {
		Type string `json:"type"`
		SHA  string `json:"sha"`
	} `json:"object"`
}

// File is a single file fetched through the contents API, with its
// content already base64-decoded.
type File struct {
	Path    string
	SHA     string
	Content []byte
}

// DirEntry is one entry of a directory listing from the contents API.
type DirEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	SHA  string `json:"sha"`
}

// TreeEntry is one entry of a tree to create. Mode "100644" for a regular
// file.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// Commit is the subset of a commit object the sync engine needs.
type Commit struct {
	SHA  string `json:"sha"`
	Tree struct {
		SHA string `json:"sha"`
	} `json:"tree"`
}
