package s3

// contentTypeExtension 列出允許上傳的內容類型及其副檔名
var contentTypeExtension = map[string]string{
	"application/json": "json",
}

// ExtensionOf 回傳內容類型對應的副檔名，不允許的類型回傳 false
func ExtensionOf(contentType string) (string, bool) {
	ext, ok := contentTypeExtension[contentType]
	return ext, ok
}
