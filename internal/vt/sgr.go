package vt

// sgr applies Select Graphic Rendition parameters to the pen.
func (t *Terminal) sgr() {
	params := t.seq.params
	st := &t.screen.style
	if len(params) == 0 {
		*st = Style{}
		return
	}
	for i := 0; i < len(params); i++ {
		v := params[i]
		switch {
		case v == 0:
			*st = Style{}
		case v == 1:
			st.Attrs |= AttrBold
		case v == 2:
			st.Attrs |= AttrFaint
		case v == 3:
			st.Attrs |= AttrItalic
		case v == 4:
			// 4:0 turns underline off, 4:n picks a style
			if i+1 < len(params) && t.seq.colon[i+1] {
				i++
				if params[i] == 0 {
					st.Attrs &^= AttrUnderline
					continue
				}
			}
			st.Attrs |= AttrUnderline
		case v == 5 || v == 6:
			st.Attrs |= AttrBlink
		case v == 7:
			st.Attrs |= AttrInverse
		case v == 8:
			st.Attrs |= AttrHidden
		case v == 9:
			st.Attrs |= AttrStrike
		case v == 21:
			st.Attrs |= AttrUnderline
		case v == 22:
			st.Attrs &^= AttrBold | AttrFaint
		case v == 23:
			st.Attrs &^= AttrItalic
		case v == 24:
			st.Attrs &^= AttrUnderline
		case v == 25:
			st.Attrs &^= AttrBlink
		case v == 27:
			st.Attrs &^= AttrInverse
		case v == 28:
			st.Attrs &^= AttrHidden
		case v == 29:
			st.Attrs &^= AttrStrike
		case v >= 30 && v <= 37:
			st.Fg = Indexed(v - 30)
		case v == 38:
			c, next, ok := t.extendedColor(i)
			if ok {
				st.Fg = c
			}
			i = next
		case v == 39:
			st.Fg = DefaultColor
		case v >= 40 && v <= 47:
			st.Bg = Indexed(v - 40)
		case v == 48:
			c, next, ok := t.extendedColor(i)
			if ok {
				st.Bg = c
			}
			i = next
		case v == 49:
			st.Bg = DefaultColor
		case v == 58:
			// underline color takes the same arguments
			_, i, _ = t.extendedColor(i)
		case v >= 90 && v <= 97:
			st.Fg = Indexed(v - 90 + 8)
		case v >= 100 && v <= 107:
			st.Bg = Indexed(v - 100 + 8)
		}
	}
}

// extendedColor parses the arguments of 38, 48 or 58 at index i, in either
// the ;5;n / ;2;r;g;b form or the colon form (38:5:n, 38:2:[cs]:r:g:b).
// It returns the index of the last parameter consumed.
func (t *Terminal) extendedColor(i int) (Color, int, bool) {
	params, colon := t.seq.params, t.seq.colon
	if i+1 < len(params) && colon[i+1] {
		j := i + 1
		for j < len(params) && colon[j] {
			j++
		}
		sub := params[i+1 : j]
		last := j - 1
		switch sub[0] {
		case 5:
			if len(sub) >= 2 {
				return Indexed(sub[1]), last, true
			}
		case 2:
			if n := len(sub); n >= 4 {
				return RGB(clampByte(sub[n-3]), clampByte(sub[n-2]), clampByte(sub[n-1])), last, true
			}
		}
		return Color{}, last, false
	}
	if i+1 >= len(params) {
		return Color{}, i, false
	}
	switch params[i+1] {
	case 5:
		if i+2 < len(params) {
			return Indexed(params[i+2]), i + 2, true
		}
		return Color{}, len(params) - 1, false
	case 2:
		if i+4 < len(params) {
			return RGB(clampByte(params[i+2]), clampByte(params[i+3]), clampByte(params[i+4])), i + 4, true
		}
		return Color{}, len(params) - 1, false
	}
	return Color{}, i + 1, false
}
