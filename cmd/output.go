package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shouni/go-image-exact/pkg/flow"
)

// writeFileAtomic は一時ファイルに書き込んだ後にリネームし、中途半端なファイルを残しません。
func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("出力ディレクトリの作成に失敗しました (%s): %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("出力ファイルの配置に失敗しました (%s): %w", path, err)
	}
	return nil
}

// writeSession は出力チャネルごとに Unit を書き出します。
// <dir>/<relationship>/<unit-id>.json にボディ、<unit-id>.attributes.json に属性を書き込みます。
func writeSession(dir string, session *flow.MemorySession, rels []flow.Relationship) error {
	for _, rel := range rels {
		for _, unit := range session.Transferred(rel) {
			base := filepath.Join(dir, rel.Name, unit.ID())

			attrs, err := json.MarshalIndent(unit.Attributes(), "", "  ")
			if err != nil {
				return fmt.Errorf("属性のシリアライズに失敗しました (unit: %s): %w", unit.ID(), err)
			}
			if err := writeFileAtomic(base+".attributes.json", attrs); err != nil {
				return err
			}

			if body := unit.Body(); body != nil {
				if err := writeFileAtomic(base+".json", body); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
