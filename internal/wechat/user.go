package wechat

import (
	"strconv"
	"strings"
)

// User is an Official Account follower profile as returned by the user-info
// endpoints. The core treats it as an opaque attribute record; no field
// beyond presence is validated.
type User struct {
	Subscribe     int    `json:"subscribe"`
	OpenID        string `json:"openid"`
	Nickname      string `json:"nickname"`
	Sex           int    `json:"sex"`
	City          string `json:"city"`
	Country       string `json:"country"`
	Province      string `json:"province"`
	Language      string `json:"language"`
	HeadImgURL    string `json:"headimgurl"`
	SubscribeTime int64  `json:"subscribe_time"`
	UnionID       string `json:"unionid"`
	Remark        string `json:"remark"`
	GroupID       int    `json:"groupid"`
	TagIDList     string `json:"-"`
}

// TagIDs parses the comma-joined TagIDList into integers; "1,2,3" becomes
// [1 2 3]. Unparsable entries are skipped.
func (u *User) TagIDs() []int {
	if u.TagIDList == "" {
		return nil
	}
	parts := strings.Split(u.TagIDList, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// SetTagIDs stores the integer list back in the comma-joined wire form.
func (u *User) SetTagIDs(ids []int) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	u.TagIDList = strings.Join(parts, ",")
}

// Update copies the non-zero fields of src into u. Only the fixed profile
// fields are copyable; there is no dynamic attribute storage, so nothing
// outside this allow-list can reach u.
func (u *User) Update(src *User) {
	if src == nil {
		return
	}
	if src.Subscribe != 0 {
		u.Subscribe = src.Subscribe
	}
	if src.OpenID != "" {
		u.OpenID = src.OpenID
	}
	if src.Nickname != "" {
		u.Nickname = src.Nickname
	}
	if src.Sex != 0 {
		u.Sex = src.Sex
	}
	if src.City != "" {
		u.City = src.City
	}
	if src.Country != "" {
		u.Country = src.Country
	}
	if src.Province != "" {
		u.Province = src.Province
	}
	if src.Language != "" {
		u.Language = src.Language
	}
	if src.HeadImgURL != "" {
		u.HeadImgURL = src.HeadImgURL
	}
	if src.SubscribeTime != 0 {
		u.SubscribeTime = src.SubscribeTime
	}
	if src.UnionID != "" {
		u.UnionID = src.UnionID
	}
	if src.Remark != "" {
		u.Remark = src.Remark
	}
	if src.GroupID != 0 {
		u.GroupID = src.GroupID
	}
	if src.TagIDList != "" {
		u.TagIDList = src.TagIDList
	}
}
