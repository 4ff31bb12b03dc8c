package types

// Image は、ページから発見された1件の画像参照 (ExtractedImage) です。
// JSON のフィールド名はそのまま出力ボディのキーになります。
type Image struct {
	Src    string `json:"src"`              // ページURLを基準に解決済みの画像URL
	Alt    string `json:"alt,omitempty"`    // alt 属性 (正規化済み)
	Title  string `json:"title,omitempty"`  // title 属性 (正規化済み)
	Width  string `json:"width,omitempty"`  // width 属性 (そのまま)
	Height string `json:"height,omitempty"` // height 属性 (そのまま)
}

// UnitResult は、バッチ処理における1件の Unit の処理結果を保持します。
type UnitResult struct {
	UnitID       string // 処理対象の Unit ID
	URL          string // 解決された対象URL
	Relationship string // 送り先の出力チャネル名 (success / failure)
	ImageCount   int    // 抽出された画像の件数
	Error        error  // 処理中に発生したエラー
}
