package pagination

import (
	"fmt"

	"github.com/florinutz/deltashare/action"
	"github.com/florinutz/deltashare/sharingerr"
)

const (
	DefaultPageSize = 1000
	DefaultMaxPage  = 10000
)

// Paginator cuts file lists into pages.
type Paginator struct {
	DefaultPageSize int
	MaxPageSize     int
	Codec           *Codec
}

// New returns a paginator with the default limits.
func New(codec *Codec) *Paginator {
	return &Paginator{DefaultPageSize: DefaultPageSize, MaxPageSize: DefaultMaxPage, Codec: codec}
}

// Request describes one page request over a file list of a given version.
type Request struct {
	TableID string
	Version int64
	// Token is the continuation token from the previous page, empty for the
	// first page.
	Token string
	// PageSize is the caller's requested size; zero means unspecified.
	PageSize    int
	Fingerprint string
}

// Page is one slice of the file list.
type Page struct {
	Files []action.AddFile
	// Offset is the index of Files[0] in the full list.
	Offset int
	// NextToken is empty on the last page.
	NextToken string
}

// Pinned returns the version a continuation token refers to, so a request
// for the latest version can be pinned to the version of the first page. It
// returns false for an empty token.
func (p *Paginator) Pinned(tableID, token string) (int64, bool, error) {
	if token == "" {
		return 0, false, nil
	}
	tok, err := p.Codec.Open(tableID, token)
	if err != nil {
		return 0, false, err
	}
	return tok.Version, true, nil
}

// Page returns the page of files selected by req. files must be in the
// stable order the snapshot was frozen with.
func (p *Paginator) Page(req Request, files []action.AddFile) (Page, error) {
	offset := 0
	hint := 0
	if req.Token != "" {
		tok, err := p.Codec.Open(req.TableID, req.Token)
		if err != nil {
			return Page{}, err
		}
		if tok.Version != req.Version {
			return Page{}, &sharingerr.InvalidPaginationTokenError{
				Reason: fmt.Sprintf("token is for version %d, request is for version %d", tok.Version, req.Version),
			}
		}
		if tok.Fingerprint != req.Fingerprint {
			return Page{}, &sharingerr.InvalidPaginationTokenError{Reason: "request parameters changed since the token was issued"}
		}
		if tok.Offset > len(files) {
			return Page{}, &sharingerr.InvalidPaginationTokenError{
				Reason: fmt.Sprintf("offset %d beyond %d files", tok.Offset, len(files)),
			}
		}
		offset, hint = tok.Offset, tok.PageSize
	}

	size := p.pageSize(req.PageSize, hint)
	end := min(offset+size, len(files))
	page := Page{Files: files[offset:end:end], Offset: offset}
	if end < len(files) {
		next, err := p.Codec.Seal(req.TableID, Token{
			Version:     req.Version,
			Offset:      end,
			PageSize:    size,
			Fingerprint: req.Fingerprint,
		})
		if err != nil {
			return Page{}, err
		}
		page.NextToken = next
	}
	return page, nil
}

func (p *Paginator) pageSize(requested, hint int) int {
	size := p.DefaultPageSize
	switch {
	case requested > 0:
		size = requested
	case hint > 0:
		size = hint
	}
	maxSize := p.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPage
	}
	return max(1, min(size, maxSize))
}

// Window pages a listing of n named entries such as shares or tables. scope
// binds the token to one listing. It returns the half-open range [start, end)
// to serve and the token for the rest, empty on the last window.
func (p *Paginator) Window(scope string, n int, token string, size int) (start, end int, next string, err error) {
	if size < 0 {
		return 0, 0, "", &sharingerr.InvalidRequestError{Field: "maxResults", Reason: "must not be negative"}
	}
	hint := 0
	if token != "" {
		tok, err := p.Codec.Open(scope, token)
		if err != nil {
			return 0, 0, "", err
		}
		if tok.Offset > n {
			return 0, 0, "", &sharingerr.InvalidPaginationTokenError{
				Reason: fmt.Sprintf("offset %d beyond %d entries", tok.Offset, n),
			}
		}
		start, hint = tok.Offset, tok.PageSize
	}
	size = p.pageSize(size, hint)
	end = min(start+size, n)
	if end < n {
		next, err = p.Codec.Seal(scope, Token{Offset: end, PageSize: size})
		if err != nil {
			return 0, 0, "", err
		}
	}
	return start, end, next, nil
}
