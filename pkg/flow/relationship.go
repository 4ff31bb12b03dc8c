package flow

// Relationship は、処理後の Unit の送り先となる名前付き出力チャネルです。
type Relationship struct {
	Name        string
	Description string
}

func (r Relationship) String() string {
	return r.Name
}

var (
	// Success は抽出結果のボディ書き込みまで完了した Unit の送り先です。
	Success = Relationship{
		Name:        "success",
		Description: "画像の抽出に成功した Unit",
	}

	// Failure は抽出またはボディ書き込みに失敗した Unit の送り先です。
	Failure = Relationship{
		Name:        "failure",
		Description: "画像の抽出に失敗した Unit",
	}
)
