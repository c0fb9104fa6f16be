package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"

	"github.com/LJTian/NoticeWatch/internal/collector"
)

// FingerprintLen 为十六进制指纹的长度
const FingerprintLen = sha256.Size * 2

// Fingerprint 计算公告的内容指纹。
// 每个字段以 "长度:内容" 编码，避免 ("ab","c") 与 ("a","bc") 冲突；
// 日期前有一个存在标记字节，使"无日期"与"空日期"得到不同的指纹。
func Fingerprint(r collector.Record) string {
	h := sha256.New()
	writeField(h, r.Title)
	writeField(h, r.Link)
	if r.Date == nil {
		h.Write([]byte{0})
	} else {
		h.Write([]byte{1})
		writeField(h, *r.Date)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, s string) {
	_, _ = w.Write([]byte(strconv.Itoa(len(s))))
	_, _ = w.Write([]byte{':'})
	_, _ = w.Write([]byte(s))
}

// IsFingerprint 校验字符串是否为合法的十六进制指纹
func IsFingerprint(s string) bool {
	if len(s) != FingerprintLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
