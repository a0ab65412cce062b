package staff

// RedactSensitive clears identity and banking details for callers without
// access to sensitive staff data.
func RedactSensitive(st *Staff) {
	st.NationalID = ""
	st.BankAccount = ""
}

func RedactAll(list []Staff) {
	for i := range list {
		RedactSensitive(&list[i])
	}
}
