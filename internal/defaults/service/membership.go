package service

// toggle moves userID into the opted-in set when include is true, otherwise into
// the opted-out set. The user is removed from the opposite set. Order of other
// members is preserved and no duplicates are added.
func toggle(in, out []string, userID string, include bool) ([]string, []string) {
	if include {
		return addMember(in, userID), removeMember(out, userID)
	}
	return removeMember(in, userID), addMember(out, userID)
}

func addMember(set []string, id string) []string {
	for _, v := range set {
		if v == id {
			return set
		}
	}
	out := make([]string, 0, len(set)+1)
	out = append(out, set...)
	return append(out, id)
}

func removeMember(set []string, id string) []string {
	out := make([]string, 0, len(set))
	for _, v := range set {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contains(set []string, id string) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}
