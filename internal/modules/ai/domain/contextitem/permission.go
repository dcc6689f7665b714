package contextitem

// Predicate 判断用户能否看到某个条目
type Predicate func(ContextItem) bool

// PermissionSet 某个用户的可见性判断及其指纹，指纹参与缓存 key
type PermissionSet struct {
	UserID      string
	Predicate   Predicate
	Fingerprint string
}

// Allows predicate 为空时拒绝一切
func (p PermissionSet) Allows(it ContextItem) bool {
	if p.Predicate == nil {
		return false
	}
	return p.Predicate(it)
}

// AllowAll 仅用于内部任务（重建索引等）
func AllowAll(userID string) PermissionSet {
	return PermissionSet{
		UserID:      userID,
		Predicate:   func(ContextItem) bool { return true },
		Fingerprint: "all",
	}
}
