package webui

// indexTemplate is the embedded file-manager page.
const indexTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Save Store</title>
<style>
  body { font-family: sans-serif; max-width: 720px; margin: 2em auto; }
  table { border-collapse: collapse; width: 100%; }
  th, td { text-align: left; padding: 0.4em 0.8em; border-bottom: 1px solid #ddd; }
  .empty { color: #888; }
</style>
</head>
<body>
<h1>Save Store</h1>

<form action="/api/upload" method="post" enctype="multipart/form-data">
  <input type="file" name="file" required>
  <button type="submit">Upload</button>
</form>

{{if .Entries}}
<table>
  <tr><th>File</th><th>Size</th><th>Last saved</th></tr>
  {{range .Entries}}
  <tr>
    <td><a href="/api/files{{.Name}}">{{.Name}}</a></td>
    <td>{{.Size}}</td>
    <td>{{.SavedAt}}</td>
  </tr>
  {{end}}
</table>
{{else}}
<p class="empty">No save files stored yet.</p>
{{end}}

</body>
</html>
`
