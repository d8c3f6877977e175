// Package httpapp serves the article site.
//
// Guest routes:
//
//	GET  /                    list of articles, newest first
//	GET  /article/{id}        one article
//	GET  /static/style.css    stylesheet
//
// Admin routes, behind HTTP basic auth:
//
//	GET  /admin               dashboard
//	GET  /admin/add           empty article form
//	POST /admin/add           create, then redirect to /admin
//	GET  /admin/edit/{id}     pre-filled form
//	POST /admin/edit/{id}     update title and/or content, then redirect
//	POST /admin/delete/{id}   delete, then redirect
//
// Every route also speaks JSON when the request carries
// "Accept: application/json": GETs return the article data and POSTs return
// the result instead of a redirect. POST bodies may be url-encoded forms,
// multipart forms or JSON objects with "title" and "content".
package httpapp
