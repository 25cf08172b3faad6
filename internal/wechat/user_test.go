package wechat

import "testing"

func TestUserTagIDs(t *testing.T) {
	u := &User{TagIDList: "1,2,3"}
	ids := u.TagIDs()
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Errorf("TagIDs() = %v", ids)
	}

	u.SetTagIDs([]int{7, 42})
	if u.TagIDList != "7,42" {
		t.Errorf("TagIDList = %q", u.TagIDList)
	}

	if got := (&User{}).TagIDs(); got != nil {
		t.Errorf("TagIDs() on empty list = %v", got)
	}
	if got := (&User{TagIDList: "1,junk,3"}).TagIDs(); len(got) != 2 {
		t.Errorf("TagIDs() with junk entry = %v", got)
	}
}

func TestUserUpdate(t *testing.T) {
	u := &User{
		OpenID:   "openid123",
		Nickname: "alice",
		City:     "Guangzhou",
		Remark:   "vip",
	}
	u.Update(&User{Nickname: "alice2", Subscribe: 1})

	if u.Nickname != "alice2" {
		t.Errorf("Nickname = %q", u.Nickname)
	}
	if u.Subscribe != 1 {
		t.Errorf("Subscribe = %d", u.Subscribe)
	}
	// Zero-valued source fields leave the destination untouched.
	if u.City != "Guangzhou" || u.Remark != "vip" {
		t.Errorf("zeroed fields overwritten: %+v", u)
	}

	u.Update(nil)
	if u.OpenID != "openid123" {
		t.Errorf("Update(nil) mutated user: %+v", u)
	}
}
