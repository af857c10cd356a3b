package httpserver

import (
	"bytes"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// renderListing builds the HTML index of dir. rel is the slash-separated
// path of dir below the share root and is used for the heading and links.
// Subdirectories come first, then files, each in the order os.ReadDir
// returns them.
func renderListing(dir, rel string) ([]byte, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	body := element(atom.Body)
	h1 := element(atom.H1)
	h1.AppendChild(text("Index of /" + rel))
	body.AppendChild(h1)

	if rel != "" {
		parent := path.Dir(rel)
		href := "/"
		if parent != "." {
			href = "/" + parent
		}
		appendLink(body, href, "[Parent Directory]")
	}

	type fileEntry struct {
		name string
		info os.FileInfo
	}
	var files []fileEntry
	for _, e := range ents {
		info := followInfo(dir, e)
		if info == nil || !info.IsDir() {
			files = append(files, fileEntry{e.Name(), info})
			continue
		}
		appendLink(body, "/"+joinRel(rel, e.Name())+"/", e.Name()+"/")
	}
	for _, f := range files {
		a := appendLink(body, "/"+joinRel(rel, f.name), f.name)
		if f.info != nil && f.info.Mode().IsRegular() {
			a.Parent.InsertBefore(text(" ("+humanize.Bytes(uint64(f.info.Size()))+")"), a.NextSibling)
		}
	}

	doc := element(atom.Html)
	doc.AppendChild(body)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// followInfo returns the entry's info, resolving symlinks so a link to a
// directory is listed as one. It returns nil for dangling links.
func followInfo(dir string, e os.DirEntry) os.FileInfo {
	if e.Type()&os.ModeSymlink != 0 {
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil
		}
		return info
	}
	info, err := e.Info()
	if err != nil {
		return nil
	}
	return info
}

// appendLink adds <a href=...>label</a><br/> to parent and returns the anchor.
func appendLink(parent *html.Node, href, label string) *html.Node {
	a := element(atom.A, html.Attribute{Key: "href", Val: escapeHref(href)})
	a.AppendChild(text(label))
	parent.AppendChild(a)
	parent.AppendChild(element(atom.Br))
	return a
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a, Attr: attrs}
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func escapeHref(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}

func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
