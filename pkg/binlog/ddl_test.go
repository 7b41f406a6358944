package binlog

import "testing"

func TestIsDDLDetectsTruncateAlterDrop(t *testing.T) {
	cases := map[string]bool{
		"TRUNCATE TABLE products":          true,
		"truncate table `products`":        true,
		"ALTER TABLE products ADD COLUMN x": true,
		"DROP TABLE products":               true,
		"INSERT INTO products VALUES (1)":   false,
		"SELECT * FROM products":            false,
		"":                                  false,
	}
	for q, want := range cases {
		if got := isDDL(q); got != want {
			t.Errorf("isDDL(%q) = %v, want %v", q, got, want)
		}
	}
}

func TestExtractDDLTableFromAlterAndTruncate(t *testing.T) {
	cases := map[string]string{
		"ALTER TABLE products ADD COLUMN x INT": "products",
		"ALTER TABLE `products` DROP COLUMN y":  "products",
		"DROP TABLE products":                   "products",
		"DROP TABLE `orders`;":                  "orders",
		"TRUNCATE TABLE products":               "products",
		"TRUNCATE products":                     "products",
		"SELECT 1":                              "",
	}
	for q, want := range cases {
		if got := extractDDLTable(q); got != want {
			t.Errorf("extractDDLTable(%q) = %q, want %q", q, got, want)
		}
	}
}
