package flow

import (
	"maps"

	"github.com/google/uuid"
)

// Unit は、パイプラインを流れる1件の作業単位 (WorkUnit) です。
// 文字列属性のマップと、置き換え可能なバイナリボディを保持します。
// Unit は1回の処理呼び出しが所有するため、内部で排他制御は行いません。
type Unit struct {
	id         string
	attributes map[string]string
	body       []byte
}

// NewUnit は、空の属性と空のボディを持つ新しい Unit を生成します。
func NewUnit() *Unit {
	return &Unit{
		id:         uuid.NewString(),
		attributes: make(map[string]string),
	}
}

// NewUnitWithAttributes は、指定された属性をコピーして新しい Unit を生成します。
func NewUnitWithAttributes(attrs map[string]string) *Unit {
	u := NewUnit()
	maps.Copy(u.attributes, attrs)
	return u
}

// ID は Unit の一意な識別子を返します。
func (u *Unit) ID() string {
	return u.id
}

// Attribute は指定されたキーの属性値と、その存在有無を返します。
func (u *Unit) Attribute(key string) (string, bool) {
	v, ok := u.attributes[key]
	return v, ok
}

// SetAttribute は属性を設定します。
func (u *Unit) SetAttribute(key, value string) {
	u.attributes[key] = value
}

// Attributes は属性マップのコピーを返します。
func (u *Unit) Attributes() map[string]string {
	return maps.Clone(u.attributes)
}

// Body は現在のボディのコピーを返します。
func (u *Unit) Body() []byte {
	if u.body == nil {
		return nil
	}
	out := make([]byte, len(u.body))
	copy(out, u.body)
	return out
}

// Clone は属性とボディが同一で、IDのみが異なる Unit を返します。
func (u *Unit) Clone() *Unit {
	c := NewUnitWithAttributes(u.attributes)
	c.body = u.Body()
	return c
}

// replaceBody はボディを丸ごと置き換えます。Session からのみ呼ばれます。
func (u *Unit) replaceBody(b []byte) {
	u.body = b
}
