package app

const (
	findUser   = "SELECT id, name FROM users WHERE id = ?"
	purgeUsers = "DELETE FROM users"
	slowPage   = "SELECT id FROM users WHERE id > 1 ORDER BY id LIMIT 20000, 10"
	greeting   = "SELECTING items is fun"
)
