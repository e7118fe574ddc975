// Package clipper defines the types, collaborator interfaces, and error
// taxonomy shared by the fetch, rewrite, convert, media, and import stages
// of the web clipper.
package clipper
