package http

import (
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"medcost/insurance"
	"medcost/ml"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Page is the view shown in the main panel.
type Page string

const (
	PageIntro   Page = "intro"
	PagePredict Page = "predict"
)

// NavItem is one entry of the sidebar navigation.
type NavItem struct {
	Page  Page
	Label string
}

// Navigation lists the pages in sidebar order. The first one is the default.
var Navigation = []NavItem{
	{Page: PageIntro, Label: "简介"},
	{Page: PagePredict, Label: "预测医疗费用"},
}

// SelectPage maps the nav query value to a page. Unknown or empty values
// fall back to the introduction.
func SelectPage(nav string) Page {
	for _, item := range Navigation {
		if string(item.Page) == nav {
			return item.Page
		}
	}
	return Navigation[0].Page
}

// FormValues holds the raw form inputs so the form can be re-rendered as
// the user left it.
type FormValues struct {
	Age      string
	Sex      string
	BMI      string
	Children string
	Smoker   string
	Region   string
}

// DefaultForm pre-selects the first choice of each categorical attribute.
func DefaultForm(categories insurance.Categories) FormValues {
	return FormValues{
		Age:      "0",
		Sex:      first(categories.Sex),
		BMI:      "0.00",
		Children: "0",
		Smoker:   first(categories.Smoker),
		Region:   first(categories.Region),
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// ParseForm reads the six attributes from a submitted form and enforces the
// form bounds.
func ParseForm(values url.Values, categories insurance.Categories) (insurance.Record, FormValues, error) {
	form := FormValues{
		Age:      strings.TrimSpace(values.Get("age")),
		Sex:      values.Get("sex"),
		BMI:      strings.TrimSpace(values.Get("bmi")),
		Children: strings.TrimSpace(values.Get("children")),
		Smoker:   values.Get("smoker"),
		Region:   values.Get("region"),
	}

	var record insurance.Record
	var err error
	if record.Age, err = strconv.Atoi(form.Age); err != nil {
		return record, form, &insurance.ValidationError{Field: "age", Reason: "must be a whole number"}
	}
	if record.BMI, err = strconv.ParseFloat(form.BMI, 64); err != nil {
		return record, form, &insurance.ValidationError{Field: "bmi", Reason: "must be a number"}
	}
	if record.Children, err = strconv.Atoi(form.Children); err != nil {
		return record, form, &insurance.ValidationError{Field: "children", Reason: "must be a whole number"}
	}
	record.Sex, record.Smoker, record.Region = form.Sex, form.Smoker, form.Region

	return record, form, categories.Check(record)
}

// PageState is everything the layout template renders.
type PageState struct {
	Page       Page
	Navigation []NavItem
	Labels     insurance.Columns
	Categories insurance.Categories
	Form       FormValues
	Result     string
	Error      string
}

func (s *Server) newPageState(page Page) *PageState {
	return &PageState{
		Page:       page,
		Navigation: Navigation,
		Labels:     s.deps.Columns,
		Categories: s.deps.Categories,
		Form:       DefaultForm(s.deps.Categories),
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, s.newPageState(SelectPage(r.URL.Query().Get("nav"))))
}

// handlePredictForm runs exactly one prediction per submission and renders
// the result or the error inline on the prediction page.
func (s *Server) handlePredictForm(w http.ResponseWriter, r *http.Request) {
	state := s.newPageState(PagePredict)
	if err := r.ParseForm(); err != nil {
		state.Error = "表单无法解析：" + err.Error()
		s.render(w, http.StatusBadRequest, state)
		return
	}

	record, form, err := ParseForm(r.PostForm, s.deps.Categories)
	state.Form = form
	if err != nil {
		s.observeInvalid()
		state.Error = userMessage(err)
		s.render(w, http.StatusBadRequest, state)
		return
	}

	prediction, err := s.predict(r.Context(), record)
	if err != nil {
		state.Error = userMessage(err)
		s.render(w, statusFor(err), state)
		return
	}
	state.Result = prediction.Charges.StringFixed(ml.DisplayPlaces)
	s.render(w, http.StatusOK, state)
}

func (s *Server) render(w http.ResponseWriter, status int, state *PageState) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplates.ExecuteTemplate(w, "layout.html", state); err != nil {
		s.logger.Error("render page failed", zap.String("page", string(state.Page)), zap.Error(err))
	}
}
