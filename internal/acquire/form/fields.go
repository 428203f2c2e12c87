package form

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/permitwatch/internal/acquire"
)

// formValues collects every successful control at its default value: text
// and hidden inputs, checked checkboxes and radios, selected options and
// textareas. Buttons, file inputs and disabled controls are left out.
func formValues(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, el *goquery.Selection) {
		name, ok := el.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, disabled := el.Attr("disabled"); disabled {
			return
		}
		switch goquery.NodeName(el) {
		case "input":
			kind := strings.ToLower(strings.TrimSpace(el.AttrOr("type", "text")))
			switch kind {
			case "submit", "button", "image", "reset", "file":
				return
			case "checkbox", "radio":
				if _, checked := el.Attr("checked"); !checked {
					return
				}
				values.Add(name, el.AttrOr("value", "on"))
			default:
				values.Add(name, el.AttrOr("value", ""))
			}
		case "select":
			for _, v := range selectedOptions(el) {
				values.Add(name, v)
			}
		case "textarea":
			values.Add(name, el.Text())
		}
	})
	return values
}

func selectedOptions(sel *goquery.Selection) []string {
	options := sel.Find("option")
	var picked []string
	options.Each(func(_ int, opt *goquery.Selection) {
		if _, ok := opt.Attr("selected"); ok {
			picked = append(picked, optionValue(opt))
		}
	})
	_, multiple := sel.Attr("multiple")
	if len(picked) == 0 && !multiple && options.Length() > 0 {
		picked = append(picked, optionValue(options.First()))
	}
	return picked
}

func optionValue(opt *goquery.Selection) string {
	if v, ok := opt.Attr("value"); ok {
		return v
	}
	return strings.TrimSpace(opt.Text())
}

func findDateFields(form *goquery.Selection, pairs []acquire.DateFieldPair) (acquire.DateFieldPair, bool) {
	for _, pair := range pairs {
		if hasNamed(form, pair.Begin) && hasNamed(form, pair.End) {
			return pair, true
		}
	}
	return acquire.DateFieldPair{}, false
}

func hasNamed(form *goquery.Selection, name string) bool {
	return form.Find("input, select, textarea").FilterFunction(func(_ int, el *goquery.Selection) bool {
		return el.AttrOr("name", "") == name
	}).Length() > 0
}

// selectCounties locates the county multi-select and returns its field name
// plus the option values matching the wanted counties.
func selectCounties(form *goquery.Selection, keys, counties []string) (string, []string) {
	var target *goquery.Selection
	selects := form.Find("select")
	for _, key := range keys {
		match := selects.FilterFunction(func(_ int, el *goquery.Selection) bool {
			return el.AttrOr("name", "") == key || el.AttrOr("id", "") == key
		})
		if match.Length() > 0 {
			target = match.First()
			break
		}
	}
	if target == nil {
		multi := selects.Filter("[multiple]")
		if multi.Length() == 0 {
			return "", nil
		}
		target = multi.First()
	}
	name := target.AttrOr("name", "")
	if name == "" {
		return "", nil
	}

	wanted := make(map[string]bool, len(counties))
	for _, c := range counties {
		wanted[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	var picked []string
	target.Find("option").Each(func(_ int, opt *goquery.Selection) {
		text := strings.ToUpper(strings.TrimSpace(opt.Text()))
		value := optionValue(opt)
		if wanted[text] || wanted[strings.ToUpper(strings.TrimSpace(value))] {
			picked = append(picked, value)
		}
	})
	return name, picked
}

// submitControl returns the first submit control's name and value.
func submitControl(form *goquery.Selection) (string, string, bool) {
	var (
		name, value string
		found       bool
	)
	form.Find("input, button").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		kind := strings.ToLower(strings.TrimSpace(el.AttrOr("type", "")))
		isSubmit := kind == "submit" || (goquery.NodeName(el) == "button" && kind == "")
		if !isSubmit {
			return true
		}
		name = el.AttrOr("name", "")
		value = el.AttrOr("value", "")
		if value == "" && goquery.NodeName(el) == "button" {
			value = strings.TrimSpace(el.Text())
		}
		found = true
		return false
	})
	return name, value, found
}
