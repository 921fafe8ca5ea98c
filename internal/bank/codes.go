// Package bank 将市场侧返回的银行名称映射为支付网关所需的 NIP 银行编码。
package bank

import "strings"

// nipCodes 收录常见尼日利亚银行的 NIP 编码，键为规整后的银行名。
var nipCodes = map[string]string{
	"ACCESS BANK":              "044",
	"ZENITH BANK":              "057",
	"GUARANTY TRUST BANK":      "058",
	"KUDA MICROFINANCE BANK":   "50211",
	"FIRST BANK OF NIGERIA":    "011",
	"UNION BANK OF NIGERIA":    "032",
	"UNITED BANK FOR AFRICA":   "033",
	"STANBIC IBTC BANK":        "221",
	"FIDELITY BANK":            "070",
	"ECOBANK NIGERIA":          "050",
	"KEYSTONE BANK":            "082",
	"PROVIDUS BANK":            "101",
	"WEMA BANK":                "023",
	"POLARIS BANK":             "076",
	"UNITY BANK":               "215",
	"STERLING BANK":            "232",
	"HERITAGE BANK":            "063",
	"JAIZ BANK":                "301",
	"SUNTRUST BANK":            "100",
	"FCMB":                     "214",
	"CORONATION MERCHANT BANK": "559",
	"FBNQUEST MERCHANT BANK":   "560",
	"RAND MERCHANT BANK":       "562",
	"STANDARD CHARTERED BANK":  "068",
	"TITAN TRUST BANK":         "102",
	"CITIBANK NIGERIA":         "023",
	"RUBY MICROFINANCE BANK":   "50505",
}

// ResolveCode 对市场侧银行名做规整后查表，返回网关银行编码。
// 查不到时返回 ("", false)，调用方应将该订单转入人工处理而不是重试。
func ResolveCode(rawBankName string) (string, bool) {
	if rawBankName == "" {
		return "", false
	}

	name := strings.ToUpper(strings.TrimSpace(rawBankName))
	name = strings.ReplaceAll(name, " PLC", "")
	name = strings.ReplaceAll(name, " LIMITED", "")
	name = strings.ReplaceAll(name, ".", "")
	name = strings.TrimSpace(name)

	// 常见别名先于全表匹配
	switch {
	case strings.Contains(name, "GTBANK"), strings.Contains(name, "GUARANTY TRUST"):
		return "058", true
	case strings.Contains(name, "KUDA"):
		return "50211", true
	case strings.Contains(name, "UBA"), strings.Contains(name, "UNITED BANK FOR AFRICA"):
		return "033", true
	case strings.Contains(name, "FCMB"), strings.Contains(name, "FIRST CITY MONUMENT"):
		return "214", true
	}

	code, ok := nipCodes[name]
	return code, ok
}
