package webpage

import (
	"encoding/json"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const (
	universalScriptID = "__UNIVERSAL_DATA_FOR_REHYDRATION__"
	sigiScriptID      = "SIGI_STATE"
)

// page is what a profile page tells us once parsed.
type page struct {
	scripts  map[string]string
	meta     map[string]string
	videoIDs []string
}

var videoHrefPattern = regexp.MustCompile(`/@([^/?#]+)/video/(\d+)`)

func parsePage(r io.Reader, username string) (*page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	p := &page{
		scripts: make(map[string]string),
		meta:    make(map[string]string),
	}
	seen := make(map[string]struct{})

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script":
				if id := attr(n, "id"); id == universalScriptID || id == sigiScriptID {
					if n.FirstChild != nil {
						p.scripts[id] = strings.TrimSpace(n.FirstChild.Data)
					}
				}
			case "meta":
				key := attr(n, "property")
				if key == "" {
					key = attr(n, "name")
				}
				if key != "" {
					p.meta[key] = attr(n, "content")
				}
			case "a":
				m := videoHrefPattern.FindStringSubmatch(attr(n, "href"))
				if m != nil && strings.EqualFold(m[1], username) {
					if _, dup := seen[m[2]]; !dup {
						seen[m[2]] = struct{}{}
						p.videoIDs = append(p.videoIDs, m[2])
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return p, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Embedded state.

type userInfo struct {
	User struct {
		ID        string `json:"id"`
		UniqueID  string `json:"uniqueId"`
		Nickname  string `json:"nickname"`
		Signature string `json:"signature"`
	} `json:"user"`
	Stats *userStats `json:"stats"`
}

type userStats struct {
	FollowerCount int64 `json:"followerCount"`
	VideoCount    *int  `json:"videoCount"`
}

type item struct {
	ID         string          `json:"id"`
	Desc       string          `json:"desc"`
	CreateTime flexInt         `json:"createTime"`
	Author     json.RawMessage `json:"author"`
	Video      struct {
		DownloadAddr string  `json:"downloadAddr"`
		PlayAddr     string  `json:"playAddr"`
		Duration     flexInt `json:"duration"`
	} `json:"video"`
	ItemStruct *item `json:"itemStruct"`
	ItemInfo   *struct {
		ItemStruct *item `json:"itemStruct"`
	} `json:"itemInfo"`
}

// unwrap returns the item itself, some listings nest it.
func (it *item) unwrap() *item {
	switch {
	case it.ItemStruct != nil:
		return it.ItemStruct
	case it.ItemInfo != nil && it.ItemInfo.ItemStruct != nil:
		return it.ItemInfo.ItemStruct
	}
	return it
}

// authorName handles author being either an object or a plain username.
func (it *item) authorName() string {
	if len(it.Author) == 0 {
		return ""
	}
	var name string
	if err := json.Unmarshal(it.Author, &name); err == nil {
		return name
	}
	var obj struct {
		UniqueID string `json:"uniqueId"`
	}
	_ = json.Unmarshal(it.Author, &obj)
	return obj.UniqueID
}

// flexInt accepts numbers and numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type universalState struct {
	DefaultScope struct {
		UserDetail *struct {
			StatusCode int             `json:"statusCode"`
			UserInfo   *userInfo       `json:"userInfo"`
			ItemList   json.RawMessage `json:"itemList"`
			Items      json.RawMessage `json:"items"`
		} `json:"webapp.user-detail"`
	} `json:"__DEFAULT_SCOPE__"`
}

type sigiState struct {
	UserModule struct {
		Users map[string]struct {
			ID        string `json:"id"`
			UniqueID  string `json:"uniqueId"`
			Nickname  string `json:"nickname"`
			Signature string `json:"signature"`
		} `json:"users"`
		Stats map[string]userStats `json:"stats"`
	} `json:"UserModule"`
	ItemModule map[string]item `json:"ItemModule"`
}

// state is the merged view of both embedded documents.
type state struct {
	found      bool
	statusCode int
	info       *userInfo
	items      []item
}

func (p *page) state(username string) state {
	var st state

	if raw, ok := p.scripts[universalScriptID]; ok {
		var u universalState
		if err := json.Unmarshal([]byte(raw), &u); err == nil && u.DefaultScope.UserDetail != nil {
			d := u.DefaultScope.UserDetail
			st.found = true
			st.statusCode = d.StatusCode
			st.info = d.UserInfo
			st.items = decodeItems(d.ItemList)
			if len(st.items) == 0 {
				st.items = decodeItems(d.Items)
			}
		}
	}

	if raw, ok := p.scripts[sigiScriptID]; ok && (st.info == nil || len(st.items) == 0) {
		var s sigiState
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			st.found = true
			if st.info == nil {
				st.info = s.userInfo(username)
			}
			if len(st.items) == 0 {
				st.items = s.itemsBy(username)
			}
		}
	}
	return st
}

// decodeItems reads an item list that may itself be wrapped in an object.
func decodeItems(raw json.RawMessage) []item {
	if len(raw) == 0 {
		return nil
	}
	var items []item
	if err := json.Unmarshal(raw, &items); err == nil {
		return items
	}
	var wrapped struct {
		ItemList []item `json:"itemList"`
		Items    []item `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil
	}
	if len(wrapped.ItemList) > 0 {
		return wrapped.ItemList
	}
	return wrapped.Items
}

func (s *sigiState) userInfo(username string) *userInfo {
	for _, u := range s.UserModule.Users {
		if !strings.EqualFold(u.UniqueID, username) {
			continue
		}
		info := &userInfo{}
		info.User.ID = u.ID
		info.User.UniqueID = u.UniqueID
		info.User.Nickname = u.Nickname
		info.User.Signature = u.Signature
		if stats, ok := s.UserModule.Stats[u.ID]; ok {
			info.Stats = &stats
		}
		return info
	}
	return nil
}

// itemsBy returns the user's items, newest first.
func (s *sigiState) itemsBy(username string) []item {
	var all, own []item
	for _, it := range s.ItemModule {
		all = append(all, it)
		if strings.EqualFold(it.authorName(), username) {
			own = append(own, it)
		}
	}
	if len(own) > 0 {
		all = own
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreateTime != all[j].CreateTime {
			return all[i].CreateTime > all[j].CreateTime
		}
		return all[i].ID > all[j].ID
	})
	return all
}
