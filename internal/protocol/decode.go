package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
)

// ErrUndecodable is returned for frames that are not a JSON object.
var ErrUndecodable = errors.New("undecodable frame")

// Decode classifies one inbound text frame. It never panics; frames that are
// not a JSON object yield an error wrapping ErrUndecodable, and objects with
// an unrecognised or missing "c" decode to *Unknown.
func Decode(frame string) (Message, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(frame), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null document", ErrUndecodable)
	}

	tag, _ := fields["c"].(string)
	switch tag {
	case TagLogin, TagLoginOK:
		return decodeLogin(tag, fields), nil
	case TagCameras:
		return decodeCameras(fields), nil
	case TagSystem, TagSysinfo:
		return decodeSystem(tag, fields), nil
	case TagError:
		return &Error{Message: messageField(fields)}, nil
	case TagChanged:
		return &Changed{Path: AsString(fields["data"]), Value: fields["val"]}, nil
	default:
		if tag == "" && fields["c"] != nil {
			tag = AsString(fields["c"])
		}
		return &Unknown{Discriminator: tag, Raw: fields}, nil
	}
}

func decodeLogin(tag string, fields map[string]any) *Login {
	m := &Login{
		OK:       tag == TagLoginOK,
		Salt:     AsString(fields["salt"]),
		Msg:      AsString(fields["msg"]),
		Username: AsString(fields["username"]),
		Cookie:   AsString(fields["cookie"]),
		Version:  AsString(fields["version"]),
	}
	if raw, ok := fields["user"].(map[string]any); ok {
		u := &UserInfo{
			Name:    AsString(raw["ad"]),
			Surname: AsString(raw["soyad"]),
			Type:    AsString(raw["utype"]),
		}
		for k, v := range raw {
			switch k {
			case "ad", "soyad", "utype":
				continue
			}
			if u.Extra == nil {
				u.Extra = make(map[string]any)
			}
			u.Extra[k] = v
		}
		m.User = u
	}
	return m
}

func decodeCameras(fields map[string]any) *Cameras {
	m := &Cameras{}
	list, _ := fields["cameras"].([]any)
	for _, item := range list {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		d := CameraDescriptor{
			Name:   AsString(raw["name"]),
			URL:    AsString(raw["url"]),
			Status: int(AsInt(raw["status"])),
		}
		for k, v := range raw {
			switch k {
			case "name", "url", "status":
				continue
			}
			if d.Extra == nil {
				d.Extra = make(map[string]any)
			}
			d.Extra[k] = v
		}
		m.Cameras = append(m.Cameras, d)
	}
	return m
}

// decodeSystem accepts both the nested form {"c":"system","system":{...}}
// and the flat sysinfo form where telemetry sits next to "c".
func decodeSystem(tag string, fields map[string]any) *SystemSnapshot {
	if nested, ok := fields["system"].(map[string]any); ok {
		return &SystemSnapshot{Discriminator: tag, Fields: nested}
	}
	flat := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "c" {
			continue
		}
		flat[k] = v
	}
	return &SystemSnapshot{Discriminator: tag, Fields: flat}
}

func messageField(fields map[string]any) string {
	if s := AsString(fields["msg"]); s != "" {
		return s
	}
	return AsString(fields["message"])
}

// dotlessI maps the Turkish dotless and dotted i forms left after case
// folding onto plain "i", so "YANLIŞ", "yanlış" and "FAILED" all match.
var dotlessI = strings.NewReplacer("ı", "i", "i\u0307", "i")

func foldText(s string) string {
	return dotlessI.Replace(cases.Fold().String(s))
}

var errorKeywords = func() []string {
	kws := []string{"hata", "yanlış", "error", "failed", "başarısız"}
	for i, kw := range kws {
		kws[i] = foldText(kw)
	}
	return kws
}()

// HasErrorSignal reports whether a decoded message carries a human-readable
// failure, by keyword match against its msg field. This is a heuristic used
// to decide whether to surface a toast; it is not a protocol contract.
func HasErrorSignal(m Message) bool {
	text := MessageText(m)
	if text == "" {
		return false
	}
	folded := foldText(text)
	for _, kw := range errorKeywords {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

// MessageText returns the human-readable message carried by m, if any.
func MessageText(m Message) string {
	switch v := m.(type) {
	case *Login:
		return v.Msg
	case *Error:
		return v.Message
	case *SystemSnapshot:
		return messageField(v.Fields)
	case *Unknown:
		return messageField(v.Raw)
	default:
		return ""
	}
}
